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
	"sync"
	"sync/atomic"
)

// admission bounds the number of in-flight events of a flow.
// A max of zero or less means unbounded.
type admission struct {
	max     int64
	current int64
}

// tryAcquire reserves one slot. It never blocks.
func (a *admission) tryAcquire() bool {
	for {
		current := atomic.LoadInt64(&a.current)
		if a.max > 0 && current >= a.max {
			return false
		}
		if atomic.CompareAndSwapInt64(&a.current, current, current+1) {
			return true
		}
	}
}

func (a *admission) release() {
	atomic.AddInt64(&a.current, -1)
}

func (a *admission) inFlight() int64 {
	return atomic.LoadInt64(&a.current)
}

// permit is one acquired admission slot. Release is idempotent.
type permit struct {
	once sync.Once
	a    *admission
}

func (a *admission) acquire() (*permit, bool) {
	if !a.tryAcquire() {
		return nil, false
	}
	return &permit{a: a}, true
}

// Release gives the slot back. Only the first call has an effect.
func (p *permit) Release() bool {
	released := false
	p.once.Do(func() {
		p.a.release()
		released = true
	})
	return released
}
