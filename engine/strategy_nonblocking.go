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
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rulego/flowmesh/api/types"
	flowruntime "github.com/rulego/flowmesh/utils/runtime"
)

var _ types.ProcessingStrategy = (*NonBlockingStrategy)(nil)

// NonBlockingStrategy runs chains on a small set of event loops. A stage that
// implements types.AsyncProcessor suspends its event without holding the loop;
// the event resumes on the same loop once the stage calls back.
// Stages of one event always run in order. Independent events are not ordered.
type NonBlockingStrategy struct {
	// Loops defaults to runtime.NumCPU().
	Loops int
	// QueueSize is the number of new events each loop accepts ahead, default 64.
	QueueSize int

	mu      sync.RWMutex
	running bool
	loops   []*eventLoop
	next    uint64
	pending int64
}

type eventLoop struct {
	tasks  chan func()
	stop   chan struct{}
	signal chan struct{}

	resumeMu sync.Mutex
	resumed  []func()
}

func (s *NonBlockingStrategy) Name() string {
	return StrategyNonBlocking
}

func (s *NonBlockingStrategy) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	n := s.Loops
	if n <= 0 {
		n = runtime.NumCPU()
	}
	size := s.QueueSize
	if size <= 0 {
		size = 64
	}
	s.loops = make([]*eventLoop, n)
	for i := range s.loops {
		l := &eventLoop{
			tasks:  make(chan func(), size),
			stop:   make(chan struct{}),
			signal: make(chan struct{}, 1),
		}
		s.loops[i] = l
		go l.run()
	}
	atomic.StoreInt64(&s.pending, 0)
	s.running = true
	return nil
}

func (s *NonBlockingStrategy) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	for _, l := range s.loops {
		close(l.stop)
	}
	return nil
}

func (s *NonBlockingStrategy) Backlog() int {
	return int(atomic.LoadInt64(&s.pending))
}

func (s *NonBlockingStrategy) Execute(ctx context.Context, chain types.Chain, event *types.Event, done types.DoneFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return &types.BackPressureError{Reason: types.RequiredSchedulerBusy, Cause: errStrategyStopped}
	}
	l := s.loops[atomic.AddUint64(&s.next, 1)%uint64(len(s.loops))]
	c := &continuation{ctx: ctx, stages: chain.Stages(), event: event, done: done, loop: l}
	atomic.AddInt64(&s.pending, 1)
	select {
	case l.tasks <- func() {
		atomic.AddInt64(&s.pending, -1)
		c.run()
	}:
		return nil
	default:
		atomic.AddInt64(&s.pending, -1)
		return &types.BackPressureError{Reason: types.RequiredSchedulerBusy}
	}
}

func (l *eventLoop) run() {
	for {
		select {
		case <-l.stop:
			return
		case fn := <-l.tasks:
			fn()
		case <-l.signal:
			l.resumeMu.Lock()
			batch := l.resumed
			l.resumed = nil
			l.resumeMu.Unlock()
			for _, fn := range batch {
				fn()
			}
		}
	}
}

// resume schedules fn on the loop. It never blocks the caller.
func (l *eventLoop) resume(fn func()) {
	l.resumeMu.Lock()
	l.resumed = append(l.resumed, fn)
	l.resumeMu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// continuation is the remaining chain of one event.
type continuation struct {
	ctx    context.Context
	stages []types.Processor
	index  int
	event  *types.Event
	done   types.DoneFunc
	loop   *eventLoop
}

func (c *continuation) run() {
	for c.index < len(c.stages) {
		if err := c.ctx.Err(); err != nil {
			c.done(c.event, err)
			return
		}
		index := c.index
		stage := c.stages[index]
		if async, ok := stage.(types.AsyncProcessor); ok {
			c.suspend(index, async)
			return
		}
		result, err := RunStage(c.ctx, index, stage, c.event)
		if !c.advance(index, result, err) {
			return
		}
	}
	c.done(c.event, nil)
}

func (c *continuation) suspend(index int, stage types.AsyncProcessor) {
	var called int32
	callback := func(result *types.Event, err error) {
		if !atomic.CompareAndSwapInt32(&called, 0, 1) {
			return
		}
		c.loop.resume(func() {
			if c.advance(index, result, err) {
				c.run()
			}
		})
	}
	defer func() {
		if e := recover(); e != nil {
			callback(nil, fmt.Errorf("panic: %v\n%s", e, flowruntime.Stack()))
		}
	}()
	stage.ProcessAsync(c.ctx, c.event, callback)
}

// advance applies the outcome of a stage and reports whether the chain continues.
func (c *continuation) advance(index int, result *types.Event, err error) bool {
	if err != nil {
		if _, ok := err.(*StageError); !ok {
			err = &StageError{Index: index, Err: err}
		}
		c.done(c.event, err)
		return false
	}
	if stopsAfter(result) {
		c.done(result, nil)
		return false
	}
	c.event = result
	c.index = index + 1
	return true
}
