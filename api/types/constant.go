/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import "errors"

const (
	// Global is the expression and template variable holding the config properties.
	Global = "global"
	// FlowScheme prefixes addresses that resolve to a registered flow.
	FlowScheme = "flow://"
)

// Well known property keys.
const (
	PropertyMessageId     = "messageId"
	PropertyFlowName      = "flowName"
	PropertyBackPressure  = "backPressureReason"
	PropertyRouteTarget   = "routeTarget"
	PropertyFailedTargets = "failedTargets"
)

var (
	ErrCorrelationImmutable = errors.New("correlation id cannot be changed once set")
	ErrFlowNotStarted       = errors.New("flow is not started")
	ErrInvalidTransition    = errors.New("invalid lifecycle transition")
	ErrFlowExists           = errors.New("flow already registered")
	ErrFlowNotFound         = errors.New("flow not found")
	ErrInvalidFlow          = errors.New("invalid flow configuration")
	ErrForcedTermination    = errors.New("event terminated while stopping")
	ErrDrainTimeout         = errors.New("drain timeout exceeded")
	ErrEndpointNotFound     = errors.New("endpoint not found")
	ErrNoTargets            = errors.New("no routing targets")
	ErrPayloadNotList       = errors.New("payload is not a list")
	ErrTargetTimeout        = errors.New("routing target timed out")
	ErrComponentNotFound    = errors.New("component not found")
	ErrComponentExists      = errors.New("component already registered")
	ErrCacheNotInitialized  = errors.New("cache not initialized")
	ErrFilterUnaccepted     = errors.New("event not accepted by filter")
	ErrUnauthorised         = errors.New("event is not authorised")
	ErrDuplicateEvent       = errors.New("duplicate event")
	ErrGroupSizeMissing     = errors.New("event has no correlation group size")
	ErrTooManyGroups        = errors.New("too many open correlation groups")
)
