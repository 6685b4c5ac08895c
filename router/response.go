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

package router

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rulego/flowmesh/api/types"
)

var _ types.ResponseAggregator = (*ResponseCollection)(nil)

// ResponseCollection merges fan-out responses into one event whose payload is
// the list of successful response payloads in target order, not arrival order.
// Failed targets are listed in the outbound property types.PropertyFailedTargets.
// When every target failed the parent is returned with a RoutingFailed exception.
type ResponseCollection struct {
	// KeepAbsorbed keeps a nil entry for targets that returned no event.
	KeepAbsorbed bool
}

func (a *ResponseCollection) Aggregate(ctx context.Context, parent *types.Event, responses []types.Response) (*types.Event, error) {
	sorted := make([]types.Response, len(responses))
	copy(sorted, responses)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})

	payloads := make([]interface{}, 0, len(sorted))
	var failed []string
	var errs []error
	for _, r := range sorted {
		if r.Err != nil {
			failed = append(failed, r.Target)
			errs = append(errs, fmt.Errorf("target %s: %w", r.Target, r.Err))
			continue
		}
		if r.Event == nil {
			if a.KeepAbsorbed {
				payloads = append(payloads, nil)
			}
			continue
		}
		payloads = append(payloads, r.Event.Payload())
	}
	if len(sorted) > 0 && len(failed) == len(sorted) {
		err := errors.Join(errs...)
		return parent.WithException(types.NewExceptionPayload(types.KindRoutingFailed, err).
			WithProperty(types.PropertyFailedTargets, failed)), err
	}
	result := parent.WithPayload(payloads)
	if len(failed) > 0 {
		result = result.WithProperty(types.OutboundScope, types.PropertyFailedTargets, failed)
	}
	return result, nil
}
