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

import "sync"

// Session is the key/value bag of a logical conversation.
// It is shared by every event of the conversation and may outlive a single event.
type Session struct {
	id     string
	mu     sync.RWMutex
	values map[string]any
}

// NewSession creates an empty session with a generated id.
func NewSession() *Session {
	return &Session{id: newId(), values: make(map[string]any)}
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *Session) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Values returns a snapshot of the session values.
func (s *Session) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := make(map[string]any, len(s.values))
	for k, v := range s.values {
		c[k] = v
	}
	return c
}
