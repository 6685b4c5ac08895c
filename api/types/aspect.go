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

import (
	"context"
	"sort"
)

// Aspect is the base interface of flow aspects. Lower orders run first.
type Aspect interface {
	Order() int
}

// FlowAspect selects the flows an aspect applies to.
type FlowAspect interface {
	Aspect
	PointCut(flow string, event *Event) bool
}

// StartAspect runs after an event is admitted and before it is scheduled.
// The returned context is used for the rest of the invocation.
// Returning an error rejects the event.
type StartAspect interface {
	FlowAspect
	Start(ctx context.Context, flow string, event *Event) (context.Context, error)
}

// CompletedAspect runs once the invocation has finished.
type CompletedAspect interface {
	FlowAspect
	Completed(ctx context.Context, flow string, event *Event, err error)
}

// AspectList is an ordered aspect slice.
type AspectList []Aspect

// StartAspects returns the start aspects in order.
func (list AspectList) StartAspects() []StartAspect {
	var result []StartAspect
	for _, a := range list.sorted() {
		if item, ok := a.(StartAspect); ok {
			result = append(result, item)
		}
	}
	return result
}

// CompletedAspects returns the completed aspects in order.
func (list AspectList) CompletedAspects() []CompletedAspect {
	var result []CompletedAspect
	for _, a := range list.sorted() {
		if item, ok := a.(CompletedAspect); ok {
			result = append(result, item)
		}
	}
	return result
}

func (list AspectList) sorted() AspectList {
	c := make(AspectList, len(list))
	copy(c, list)
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].Order() < c[j].Order()
	})
	return c
}
