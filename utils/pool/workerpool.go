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

// Package pool provides a goroutine pool that reuses idle workers.
//
// Note: the worker management is inspired by
// Valyala, A. (2023) workerpool.go (Version 1.48.0)
// [Source code]. https://github.com/valyala/fasthttp/blob/master/workerpool.go
package pool

import (
	"errors"
	"log"
	"runtime"
	"sync"
	"time"
)

// ErrNoIdleWorkers is returned by Submit when every worker is busy and the pool is at its maximum.
var ErrNoIdleWorkers = errors.New("no idle workers")

// WorkerPool runs submitted functions on reusable worker goroutines.
// The most recently released worker serves the next task (FILO), which keeps
// CPU caches warm. Workers idle longer than MaxIdleWorkerDuration exit.
type WorkerPool struct {
	// MaxWorkersCount bounds the number of worker goroutines.
	MaxWorkersCount int
	// MaxIdleWorkerDuration defaults to 10 seconds.
	MaxIdleWorkerDuration time.Duration

	lock         sync.Mutex
	workersCount int
	mustStop     bool
	ready        []*workerChan
	stopCh       chan struct{}
	chanPool     sync.Pool
}

type workerChan struct {
	lastUseTime time.Time
	ch          chan func()
}

// workerChanCap is 0 on a single CPU so the submitter hands over directly.
var workerChanCap = func() int {
	if runtime.GOMAXPROCS(0) == 1 {
		return 0
	}
	return 1
}()

// Start starts the idle worker cleaner. It must be called before Submit.
func (wp *WorkerPool) Start() {
	if wp.stopCh != nil {
		return
	}
	wp.stopCh = make(chan struct{})
	stopCh := wp.stopCh
	wp.chanPool.New = func() interface{} {
		return &workerChan{ch: make(chan func(), workerChanCap)}
	}
	go func() {
		var scratch []*workerChan
		for {
			wp.clean(&scratch)
			select {
			case <-stopCh:
				return
			case <-time.After(wp.idleDuration()):
			}
		}
	}()
}

// Stop stops idle workers. Busy workers exit after their current task.
func (wp *WorkerPool) Stop() {
	if wp.stopCh == nil {
		return
	}
	close(wp.stopCh)
	wp.stopCh = nil

	wp.lock.Lock()
	for i := range wp.ready {
		wp.ready[i].ch <- nil
		wp.ready[i] = nil
	}
	wp.ready = wp.ready[:0]
	wp.mustStop = true
	wp.lock.Unlock()
}

// Release implements types.Pool.
func (wp *WorkerPool) Release() {
	wp.Stop()
}

// Submit runs fn on an idle or new worker and returns ErrNoIdleWorkers when none is available.
func (wp *WorkerPool) Submit(fn func()) error {
	ch := wp.getCh()
	if ch == nil {
		return ErrNoIdleWorkers
	}
	ch.ch <- fn
	return nil
}

// WorkersCount returns the number of live workers.
func (wp *WorkerPool) WorkersCount() int {
	wp.lock.Lock()
	defer wp.lock.Unlock()
	return wp.workersCount
}

func (wp *WorkerPool) idleDuration() time.Duration {
	if wp.MaxIdleWorkerDuration <= 0 {
		return 10 * time.Second
	}
	return wp.MaxIdleWorkerDuration
}

// clean stops the workers that have been idle too long. ready is ordered by last use.
func (wp *WorkerPool) clean(scratch *[]*workerChan) {
	criticalTime := time.Now().Add(-wp.idleDuration())

	wp.lock.Lock()
	ready := wp.ready
	n := len(ready)
	i := 0
	for i < n && criticalTime.After(ready[i].lastUseTime) {
		i++
	}
	if i == 0 {
		wp.lock.Unlock()
		return
	}
	*scratch = append((*scratch)[:0], ready[:i]...)
	m := copy(ready, ready[i:])
	for j := m; j < n; j++ {
		ready[j] = nil
	}
	wp.ready = ready[:m]
	wp.lock.Unlock()

	for j, w := range *scratch {
		w.ch <- nil
		(*scratch)[j] = nil
	}
}

func (wp *WorkerPool) getCh() *workerChan {
	var ch *workerChan
	createWorker := false

	wp.lock.Lock()
	n := len(wp.ready) - 1
	if n < 0 {
		if wp.workersCount < wp.MaxWorkersCount && !wp.mustStop {
			createWorker = true
			wp.workersCount++
		}
	} else {
		ch = wp.ready[n]
		wp.ready[n] = nil
		wp.ready = wp.ready[:n]
	}
	wp.lock.Unlock()

	if ch == nil && createWorker {
		v := wp.chanPool.Get()
		if v == nil {
			v = &workerChan{ch: make(chan func(), workerChanCap)}
		}
		ch = v.(*workerChan)
		go func() {
			wp.workerFunc(ch)
			wp.chanPool.Put(v)
		}()
	}
	return ch
}

func (wp *WorkerPool) release(ch *workerChan) bool {
	ch.lastUseTime = time.Now()
	wp.lock.Lock()
	defer wp.lock.Unlock()
	if wp.mustStop {
		return false
	}
	wp.ready = append(wp.ready, ch)
	return true
}

func (wp *WorkerPool) workerFunc(ch *workerChan) {
	for fn := range ch.ch {
		if fn == nil {
			break
		}
		run(fn)
		if !wp.release(ch) {
			break
		}
	}
	wp.lock.Lock()
	wp.workersCount--
	wp.lock.Unlock()
}

func run(fn func()) {
	defer func() {
		if e := recover(); e != nil {
			log.Printf("worker pool task panic recovered: %v", e)
		}
	}()
	fn()
}
