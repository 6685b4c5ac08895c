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

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/utils/runtime"
)

var _ types.Chain = (*Chain)(nil)

// Chain runs processors in declared order.
// It stops early when a stage absorbs the event (nil result) or marks it with a
// short-circuit exception, and aborts on the first error.
//
// Chain 按声明顺序执行处理器。
type Chain struct {
	stages []types.Processor
}

// NewChain creates a chain. Nil processors are skipped.
func NewChain(processors ...types.Processor) *Chain {
	c := &Chain{}
	for _, p := range processors {
		if p != nil {
			c.stages = append(c.stages, p)
		}
	}
	return c
}

func (c *Chain) Stages() []types.Processor {
	return c.stages
}

func (c *Chain) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	current := event
	for i, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		next, err := RunStage(ctx, i, stage, current)
		if err != nil {
			return current, err
		}
		if next == nil {
			return nil, nil
		}
		current = next
		if current.ShortCircuited() {
			return current, nil
		}
	}
	return current, nil
}

// StageError is a failure raised by one chain stage.
type StageError struct {
	Index int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d: %v", e.Index, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RunStage invokes one processor, converting a panic into a StageError.
func RunStage(ctx context.Context, index int, stage types.Processor, event *types.Event) (result *types.Event, err error) {
	defer func() {
		if e := recover(); e != nil {
			result = nil
			err = &StageError{Index: index, Err: fmt.Errorf("panic: %v\n%s", e, runtime.Stack())}
		}
	}()
	result, err = stage.Process(ctx, event)
	if err != nil {
		if _, ok := err.(*StageError); !ok {
			err = &StageError{Index: index, Err: err}
		}
	}
	return result, err
}

// stopsAfter reports whether the chain ends after a stage produced result.
func stopsAfter(result *types.Event) bool {
	return result == nil || result.ShortCircuited()
}
