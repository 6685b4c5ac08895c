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

package aspect

import (
	"context"
	"sync/atomic"

	"github.com/rulego/flowmesh/api/types"
)

var (
	_ types.StartAspect     = (*ConcurrencyLimiterAspect)(nil)
	_ types.CompletedAspect = (*ConcurrencyLimiterAspect)(nil)
)

// ConcurrencyLimiterAspect bounds the events in flight across all flows that share
// the config it is registered with. A flow's own MaxConcurrency still applies.
// Rejections are *types.BackPressureError with MaxConcurrencyExceeded.
//
// ConcurrencyLimiterAspect 限制所有流的并发事件总数。
type ConcurrencyLimiterAspect struct {
	// Max 最大并发数
	Max int64
	// Flows limits the aspect to these flows. Empty means every flow.
	Flows        []string
	currentCount int64
}

// NewConcurrencyLimiterAspect creates a limiter allowing max events in flight.
func NewConcurrencyLimiterAspect(max int, flows ...string) *ConcurrencyLimiterAspect {
	return &ConcurrencyLimiterAspect{Max: int64(max), Flows: flows}
}

func (a *ConcurrencyLimiterAspect) Order() int {
	return 10
}

func (a *ConcurrencyLimiterAspect) PointCut(flow string, event *types.Event) bool {
	return flowSet(a.Flows).match(flow)
}

// Start reserves a slot with compare-and-swap and rejects the event when none is left.
func (a *ConcurrencyLimiterAspect) Start(ctx context.Context, flow string, event *types.Event) (context.Context, error) {
	for {
		current := atomic.LoadInt64(&a.currentCount)
		if current >= a.Max {
			return ctx, types.NewBackPressureError(flow, types.MaxConcurrencyExceeded)
		}
		if atomic.CompareAndSwapInt64(&a.currentCount, current, current+1) {
			return ctx, nil
		}
	}
}

func (a *ConcurrencyLimiterAspect) Completed(ctx context.Context, flow string, event *types.Event, err error) {
	atomic.AddInt64(&a.currentCount, -1)
}

// Current returns the events in flight.
func (a *ConcurrencyLimiterAspect) Current() int64 {
	return atomic.LoadInt64(&a.currentCount)
}
