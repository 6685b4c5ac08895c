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

package metrics

import (
	"sync/atomic"

	"github.com/rulego/flowmesh/api/types"
)

// FlowStatistics holds the counters of one flow.
type FlowStatistics struct {
	InFlight       int64 // Number of admitted events not yet completed
	Received       int64 // Number of events accepted by the processing strategy
	Processed      int64 // Number of events completed without error
	Failed         int64 // Number of events completed with an error
	ShortCircuited int64 // Number of events stopped by a filter, security or duplicate check
	Rejected       int64 // Number of events refused by back-pressure
	rejectedBy     [4]int64
}

// NewFlowStatistics creates a new instance of FlowStatistics.
func NewFlowStatistics() *FlowStatistics {
	return &FlowStatistics{}
}

// IncrementInFlight marks an event as admitted.
func (m *FlowStatistics) IncrementInFlight() {
	atomic.AddInt64(&m.InFlight, 1)
}

// IncrementReceived counts an event handed to the processing strategy.
func (m *FlowStatistics) IncrementReceived() {
	atomic.AddInt64(&m.Received, 1)
}

// DecrementInFlight marks an event as completed.
func (m *FlowStatistics) DecrementInFlight() {
	atomic.AddInt64(&m.InFlight, -1)
}

func (m *FlowStatistics) IncrementProcessed() {
	atomic.AddInt64(&m.Processed, 1)
}

func (m *FlowStatistics) IncrementFailed() {
	atomic.AddInt64(&m.Failed, 1)
}

func (m *FlowStatistics) IncrementShortCircuited() {
	atomic.AddInt64(&m.ShortCircuited, 1)
}

// IncrementRejected counts a back-pressure rejection for the reason.
func (m *FlowStatistics) IncrementRejected(reason types.BackPressureReason) {
	atomic.AddInt64(&m.Rejected, 1)
	if int(reason) >= 0 && int(reason) < len(m.rejectedBy) {
		atomic.AddInt64(&m.rejectedBy[reason], 1)
	}
}

// RejectedBy returns the rejection count for one reason.
func (m *FlowStatistics) RejectedBy(reason types.BackPressureReason) int64 {
	if int(reason) < 0 || int(reason) >= len(m.rejectedBy) {
		return 0
	}
	return atomic.LoadInt64(&m.rejectedBy[reason])
}

// CurrentInFlight returns the number of events in flight.
func (m *FlowStatistics) CurrentInFlight() int64 {
	return atomic.LoadInt64(&m.InFlight)
}

// Get returns a copy of the current statistics.
func (m *FlowStatistics) Get() FlowStatistics {
	s := FlowStatistics{
		InFlight:       atomic.LoadInt64(&m.InFlight),
		Received:       atomic.LoadInt64(&m.Received),
		Processed:      atomic.LoadInt64(&m.Processed),
		Failed:         atomic.LoadInt64(&m.Failed),
		ShortCircuited: atomic.LoadInt64(&m.ShortCircuited),
		Rejected:       atomic.LoadInt64(&m.Rejected),
	}
	for i := range m.rejectedBy {
		s.rejectedBy[i] = atomic.LoadInt64(&m.rejectedBy[i])
	}
	return s
}

// Reset resets all counters except InFlight.
func (m *FlowStatistics) Reset() {
	atomic.StoreInt64(&m.Received, 0)
	atomic.StoreInt64(&m.Processed, 0)
	atomic.StoreInt64(&m.Failed, 0)
	atomic.StoreInt64(&m.ShortCircuited, 0)
	atomic.StoreInt64(&m.Rejected, 0)
	for i := range m.rejectedBy {
		atomic.StoreInt64(&m.rejectedBy[i], 0)
	}
}
