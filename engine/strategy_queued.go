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
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rulego/flowmesh/api/types"
)

var _ types.ProcessingStrategy = (*QueuedStrategy)(nil)

type queuedTask struct {
	ctx   context.Context
	chain types.Chain
	event *types.Event
	done  types.DoneFunc
}

// QueuedStrategy runs chains on a fixed set of worker goroutines fed by a bounded queue.
// When BufferSize is set, tasks that do not fit the queue wait in a secondary
// buffer and are moved into the queue as workers free up.
//
// QueuedStrategy 使用固定数量的工作协程处理有界队列中的任务。
type QueuedStrategy struct {
	// Workers defaults to runtime.NumCPU().
	Workers int
	// QueueSize defaults to Workers.
	QueueSize int
	// BufferSize is the secondary buffer size. 0 disables it.
	BufferSize int
	// BlockingEnqueue waits for queue space until ctx is done instead of rejecting.
	BlockingEnqueue bool

	mu      sync.RWMutex
	running bool
	queue   chan queuedTask
	buffer  chan queuedTask
	stopCh  chan struct{}
	pending int64
}

func (s *QueuedStrategy) Name() string {
	return StrategyQueued
}

func (s *QueuedStrategy) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	queueSize := s.QueueSize
	if queueSize <= 0 {
		queueSize = workers
	}
	s.queue = make(chan queuedTask, queueSize)
	s.stopCh = make(chan struct{})
	if s.BufferSize > 0 {
		s.buffer = make(chan queuedTask, s.BufferSize)
		go s.moveBuffered(s.buffer, s.queue, s.stopCh)
	} else {
		s.buffer = nil
	}
	for i := 0; i < workers; i++ {
		go s.work(s.queue, s.stopCh)
	}
	atomic.StoreInt64(&s.pending, 0)
	s.running = true
	return nil
}

// Stop stops the workers after their current task. Queued tasks are completed
// with a forced termination.
func (s *QueuedStrategy) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	queue, buffer := s.queue, s.buffer
	s.mu.Unlock()

	terminate := func(t queuedTask) {
		atomic.AddInt64(&s.pending, -1)
		t.done(t.event.WithException(types.NewExceptionPayload(types.KindForcedTermination, types.ErrForcedTermination)), types.ErrForcedTermination)
	}
	for {
		select {
		case t := <-queue:
			terminate(t)
		case t := <-buffer:
			terminate(t)
		default:
			return nil
		}
	}
}

func (s *QueuedStrategy) Backlog() int {
	return int(atomic.LoadInt64(&s.pending))
}

func (s *QueuedStrategy) Execute(ctx context.Context, chain types.Chain, event *types.Event, done types.DoneFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return &types.BackPressureError{Reason: types.RequiredSchedulerBusy, Cause: errStrategyStopped}
	}
	t := queuedTask{ctx: ctx, chain: chain, event: event, done: done}
	atomic.AddInt64(&s.pending, 1)
	if s.BlockingEnqueue {
		select {
		case s.queue <- t:
			return nil
		case <-ctx.Done():
			atomic.AddInt64(&s.pending, -1)
			return &types.BackPressureError{Reason: types.RequiredSchedulerBusy, Cause: ctx.Err()}
		case <-s.stopCh:
			atomic.AddInt64(&s.pending, -1)
			return &types.BackPressureError{Reason: types.RequiredSchedulerBusy, Cause: errStrategyStopped}
		}
	}
	select {
	case s.queue <- t:
		return nil
	default:
	}
	if s.buffer == nil {
		atomic.AddInt64(&s.pending, -1)
		return &types.BackPressureError{Reason: types.RequiredSchedulerBusy}
	}
	select {
	case s.buffer <- t:
		return nil
	default:
		atomic.AddInt64(&s.pending, -1)
		return &types.BackPressureError{Reason: types.RequiredSchedulerBusyWithFullBuffer}
	}
}

func (s *QueuedStrategy) work(queue chan queuedTask, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case t := <-queue:
			atomic.AddInt64(&s.pending, -1)
			if err := t.ctx.Err(); err != nil {
				t.done(t.event, err)
				continue
			}
			result, err := t.chain.Process(t.ctx, t.event)
			t.done(result, err)
		}
	}
}

func (s *QueuedStrategy) moveBuffered(buffer, queue chan queuedTask, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case t := <-buffer:
			select {
			case queue <- t:
			case <-stop:
				atomic.AddInt64(&s.pending, -1)
				t.done(t.event.WithException(types.NewExceptionPayload(types.KindForcedTermination, types.ErrForcedTermination)), types.ErrForcedTermination)
				return
			}
		}
	}
}
