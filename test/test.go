/*
 * Copyright 2023 The RuleGo Authors.
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

// Package test provides processors, resolvers and event builders for tests.
// 测试辅助工具
package test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rulego/flowmesh/api/types"
)

// Text creates a text event.
func Text(value string, opts ...types.EventOption) *types.Event {
	return types.NewPayloadEvent(value, types.MediaTypeText, opts...)
}

// Member creates an event of a correlation group.
func Member(correlationId string, groupSize, sequence int, payload interface{}) *types.Event {
	return types.NewPayloadEvent(payload, types.MediaTypeText, types.WithCorrelationGroup(correlationId, groupSize, sequence))
}

// Payloads returns the payloads of events.
func Payloads(events []*types.Event) []interface{} {
	out := make([]interface{}, 0, len(events))
	for _, e := range events {
		out = append(out, e.Payload())
	}
	return out
}

// Recorder records the events it processes and returns them unchanged.
type Recorder struct {
	mu     sync.Mutex
	events []*types.Event
	// Delay is applied before recording.
	Delay time.Duration
}

func (r *Recorder) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return event, nil
}

// Events returns the recorded events in arrival order.
func (r *Recorder) Events() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Payloads returns the recorded payloads in arrival order.
func (r *Recorder) Payloads() []interface{} {
	return Payloads(r.Events())
}

// Echo returns a processor that appends suffix to the string payload, after an optional delay.
func Echo(suffix string, delay time.Duration) types.Processor {
	return types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return event.WithPayload(fmt.Sprint(event.Payload()) + suffix), nil
	})
}

// Failing returns a processor that always fails with err.
func Failing(err error) types.Processor {
	return types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		return nil, err
	})
}

// Panicking returns a processor that panics.
func Panicking() types.Processor {
	return types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		panic("test panic")
	})
}

// Blocking blocks until Release is called or the context is done.
type Blocking struct {
	Started chan struct{}
	release chan struct{}
	once    sync.Once
	// IgnoreContext keeps the processor blocked after its context is done.
	IgnoreContext bool
}

func NewBlocking() *Blocking {
	return &Blocking{Started: make(chan struct{}, 1024), release: make(chan struct{})}
}

func (b *Blocking) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	b.Started <- struct{}{}
	if b.IgnoreContext {
		<-b.release
		return event, nil
	}
	select {
	case <-b.release:
		return event, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release unblocks every current and future call.
func (b *Blocking) Release() {
	b.once.Do(func() {
		close(b.release)
	})
}

// WaitStarted waits until n calls have started.
func (b *Blocking) WaitStarted(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-b.Started:
		case <-deadline:
			return false
		}
	}
	return true
}

// Trace records the order in which its step processors run.
type Trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *Trace) Step(name string) types.Processor {
	return types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		t.mu.Lock()
		t.steps = append(t.steps, name)
		t.mu.Unlock()
		return event, nil
	})
}

func (t *Trace) Steps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

// Logger records formatted log lines.
type Logger struct {
	mu    sync.Mutex
	lines []string
}

func (l *Logger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *Logger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
