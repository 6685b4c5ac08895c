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

package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/rulego/flowmesh/api/types"
)

// State is a flow lifecycle state.
// State 流生命周期状态。
type State int32

const (
	Initializing State = iota
	Stopped
	Starting
	Started
	Stopping
	Disposed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Started:
		return "Started"
	case Stopping:
		return "Stopping"
	case Disposed:
		return "Disposed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// lifecycle is the atomic state holder of a flow.
// Transitions are only driven by lifecycle calls, never by event traffic.
type lifecycle struct {
	state int32
}

func (l *lifecycle) current() State {
	return State(atomic.LoadInt32(&l.state))
}

// transition moves from one of the allowed states to next.
func (l *lifecycle) transition(next State, from ...State) error {
	for _, s := range from {
		if atomic.CompareAndSwapInt32(&l.state, int32(s), int32(next)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", types.ErrInvalidTransition, l.current(), next)
}

// set forces the state. Only used to complete a transition already claimed by transition.
func (l *lifecycle) set(s State) {
	atomic.StoreInt32(&l.state, int32(s))
}
