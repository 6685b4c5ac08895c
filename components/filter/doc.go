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

// Package filter provides the filter processors placed at the head of a flow.
//
// A filter that rejects an event does not fail: it returns the event marked
// with a short-circuit exception and the chain stops there.
//
//   - exprFilter: accepts events for which an expr expression is true
//   - jsFilter: accepts events for which a JavaScript function returns true
//   - propertyFilter: accepts events carrying the named properties
//   - securityFilter: authenticates events, rejections are Unauthorised
//
// Example configuration:
//
//	{
//	  "type": "exprFilter",
//	  "configuration": {
//	    "expr": "payload.temperature > 50"
//	  }
//	}
package filter

import (
	"github.com/rulego/flowmesh/api/types"
)

// Registry collects the filter prototypes of this package.
var Registry = &types.SafeComponentSlice{}

// Reject marks event as not accepted by a filter.
func Reject(event *types.Event, filter string) *types.Event {
	return event.WithException(types.NewExceptionPayload(types.KindFilterUnaccepted, types.ErrFilterUnaccepted).
		WithProperty("filter", filter))
}
