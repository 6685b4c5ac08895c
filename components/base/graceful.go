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

package base

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rulego/flowmesh/api/types"
)

// DefaultShutdownTimeout 默认优雅停机超时时间
const DefaultShutdownTimeout = 10 * time.Second

// ErrShuttingDown is returned by BeginOp once shutdown has started.
var ErrShuttingDown = errors.New("component is shutting down")

// GracefulShutdown tracks the active operations of a component so that it can
// stop accepting work and wait for what is running before releasing resources.
// It is embedded in sources and in processors that own a client.
//
// GracefulShutdown 跟踪组件的活跃操作，停机时拒绝新操作并等待正在进行的操作完成。
type GracefulShutdown struct {
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	timeout        time.Duration
	isShuttingDown int32
	activeOps      int64
	logger         types.Logger
}

// InitGracefulShutdown resets the state. A zero timeout uses DefaultShutdownTimeout.
func (g *GracefulShutdown) InitGracefulShutdown(logger types.Logger, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	g.timeout = timeout
	g.logger = logger
	g.shutdownCtx, g.shutdownCancel = context.WithCancel(context.Background())
	atomic.StoreInt32(&g.isShuttingDown, 0)
	atomic.StoreInt64(&g.activeOps, 0)
}

// ShutdownContext is cancelled when the wait for active operations times out.
func (g *GracefulShutdown) ShutdownContext() context.Context {
	if g.shutdownCtx == nil {
		return context.Background()
	}
	return g.shutdownCtx
}

func (g *GracefulShutdown) IsShuttingDown() bool {
	return atomic.LoadInt32(&g.isShuttingDown) == 1
}

// BeginOp registers an operation. Every successful call must be paired with EndOp.
func (g *GracefulShutdown) BeginOp() error {
	if g.IsShuttingDown() {
		return ErrShuttingDown
	}
	atomic.AddInt64(&g.activeOps, 1)
	// Shutdown may have started between the check and the increment.
	if g.IsShuttingDown() {
		atomic.AddInt64(&g.activeOps, -1)
		return ErrShuttingDown
	}
	return nil
}

func (g *GracefulShutdown) EndOp() {
	atomic.AddInt64(&g.activeOps, -1)
}

func (g *GracefulShutdown) ActiveOps() int64 {
	return atomic.LoadInt64(&g.activeOps)
}

// GracefulStop rejects new operations, waits for the active ones up to the
// timeout, cancels the shutdown context if they did not finish and then calls closeFunc.
// It reports whether all operations completed in time. Only the first call has an effect.
func (g *GracefulShutdown) GracefulStop(closeFunc func()) bool {
	if !atomic.CompareAndSwapInt32(&g.isShuttingDown, 0, 1) {
		return true
	}
	completed := g.waitForActiveOps()
	if !completed {
		g.logf("graceful shutdown timed out after %s with %d active operations", g.timeout, g.ActiveOps())
		if g.shutdownCancel != nil {
			g.shutdownCancel()
		}
	}
	if closeFunc != nil {
		closeFunc()
	}
	return completed
}

func (g *GracefulShutdown) waitForActiveOps() bool {
	timeout := g.timeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for atomic.LoadInt64(&g.activeOps) > 0 {
		select {
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
	return true
}

func (g *GracefulShutdown) logf(format string, args ...interface{}) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}
