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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger is a test logger implementation
type mockLogger struct {
	messages []string
	mu       sync.Mutex
}

func (m *mockLogger) Printf(format string, v ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, fmt.Sprintf(format, v...))
}

func (m *mockLogger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func TestGracefulStopWaitsForOperations(t *testing.T) {
	graceful := &GracefulShutdown{}
	graceful.InitGracefulShutdown(&mockLogger{}, time.Second)
	require.Nil(t, graceful.BeginOp())

	go func() {
		time.Sleep(50 * time.Millisecond)
		graceful.EndOp()
	}()
	closed := false
	completed := graceful.GracefulStop(func() { closed = true })
	assert.True(t, completed)
	assert.True(t, closed)
	assert.True(t, graceful.IsShuttingDown())
	assert.Nil(t, graceful.ShutdownContext().Err())
	assert.ErrorIs(t, graceful.BeginOp(), ErrShuttingDown)
}

func TestGracefulStopTimeout(t *testing.T) {
	logger := &mockLogger{}
	graceful := &GracefulShutdown{}
	graceful.InitGracefulShutdown(logger, 50*time.Millisecond)
	require.Nil(t, graceful.BeginOp())

	completed := graceful.GracefulStop(nil)
	assert.False(t, completed)
	assert.NotNil(t, graceful.ShutdownContext().Err())
	assert.Equal(t, 1, logger.count())
	assert.Equal(t, int64(1), graceful.ActiveOps())

	// second stop is a no-op
	assert.True(t, graceful.GracefulStop(nil))
}
