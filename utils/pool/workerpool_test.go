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

package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	wp := &WorkerPool{MaxWorkersCount: 1000}
	wp.Start()
	defer wp.Stop()

	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 5000; i++ {
		wg.Add(1)
		err := wp.Submit(func() {
			defer wg.Done()
			atomic.AddInt32(&n, 1)
		})
		if err != nil {
			wg.Done()
			// all workers busy, retry shortly
			time.Sleep(time.Millisecond)
			i--
			continue
		}
	}
	wg.Wait()
	assert.Equal(t, int32(5000), atomic.LoadInt32(&n))
}

func TestWorkerPoolNoIdleWorkers(t *testing.T) {
	wp := &WorkerPool{MaxWorkersCount: 1}
	wp.Start()
	defer wp.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	require.Nil(t, wp.Submit(func() {
		close(started)
		<-block
	}))
	<-started
	assert.ErrorIs(t, wp.Submit(func() {}), ErrNoIdleWorkers)
	close(block)

	assert.Eventually(t, func() bool {
		return wp.Submit(func() {}) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPoolPanicKeepsWorker(t *testing.T) {
	wp := &WorkerPool{MaxWorkersCount: 1}
	wp.Start()
	defer wp.Stop()

	require.Nil(t, wp.Submit(func() { panic("boom") }))
	done := make(chan struct{})
	assert.Eventually(t, func() bool {
		return wp.Submit(func() { close(done) }) == nil
	}, time.Second, 5*time.Millisecond)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task after panic did not run")
	}
	assert.Equal(t, 1, wp.WorkersCount())
}

func TestWorkerPoolIdleClean(t *testing.T) {
	wp := &WorkerPool{MaxWorkersCount: 10, MaxIdleWorkerDuration: 50 * time.Millisecond}
	wp.Start()
	wp.Start()
	defer wp.Release()

	require.Nil(t, wp.Submit(func() {}))
	assert.Eventually(t, func() bool {
		return wp.WorkersCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPoolStop(t *testing.T) {
	wp := &WorkerPool{MaxWorkersCount: 10}
	wp.Start()
	require.Nil(t, wp.Submit(func() {}))
	wp.Stop()
	wp.Stop()
	assert.ErrorIs(t, wp.Submit(func() {}), ErrNoIdleWorkers)
}
