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
	"errors"
	"fmt"
)

// BackPressureReason tells why a flow refused an event.
type BackPressureReason int

const (
	MaxConcurrencyExceeded BackPressureReason = iota
	RequiredSchedulerBusy
	RequiredSchedulerBusyWithFullBuffer
	EventsAccumulated
)

// BackPressureReasons lists every reason in declaration order.
var BackPressureReasons = []BackPressureReason{
	MaxConcurrencyExceeded,
	RequiredSchedulerBusy,
	RequiredSchedulerBusyWithFullBuffer,
	EventsAccumulated,
}

func (r BackPressureReason) String() string {
	switch r {
	case MaxConcurrencyExceeded:
		return "MAX_CONCURRENCY_EXCEEDED"
	case RequiredSchedulerBusy:
		return "REQUIRED_SCHEDULER_BUSY"
	case RequiredSchedulerBusyWithFullBuffer:
		return "REQUIRED_SCHEDULER_BUSY_WITH_FULL_BUFFER"
	case EventsAccumulated:
		return "EVENTS_ACCUMULATED"
	default:
		return fmt.Sprintf("BackPressureReason(%d)", int(r))
	}
}

// BackPressureError is returned synchronously when a flow cannot accept an event.
type BackPressureError struct {
	Flow   string
	Reason BackPressureReason
	Cause  error
}

// NewBackPressureError creates a back-pressure error for the flow.
func NewBackPressureError(flow string, reason BackPressureReason) *BackPressureError {
	return &BackPressureError{Flow: flow, Reason: reason}
}

func (e *BackPressureError) Error() string {
	msg := fmt.Sprintf("flow %s rejected event: %s", e.Flow, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BackPressureError) Unwrap() error {
	return e.Cause
}

// AsBackPressure extracts a *BackPressureError from err.
func AsBackPressure(err error) (*BackPressureError, bool) {
	var bp *BackPressureError
	if errors.As(err, &bp) {
		return bp, true
	}
	return nil, false
}
