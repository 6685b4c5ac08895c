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
	"log"
	"sync"

	"github.com/rulego/flowmesh/api/types"
)

var _ types.Notifier = (*NotifierHub)(nil)

// NotifierHub fans notifications out to its listeners.
// A panicking listener does not affect the others.
type NotifierHub struct {
	mu        sync.RWMutex
	listeners []types.Notifier
}

func NewNotifierHub() *NotifierHub {
	return &NotifierHub{}
}

// Add registers a listener.
func (h *NotifierHub) Add(n types.Notifier) {
	if n == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, n)
}

func (h *NotifierHub) Notify(n types.Notification) {
	h.mu.RLock()
	listeners := h.listeners
	h.mu.RUnlock()
	for _, l := range listeners {
		func() {
			defer func() {
				if e := recover(); e != nil {
					log.Printf("notification listener panic recovered: %v", e)
				}
			}()
			l.Notify(n)
		}()
	}
}
