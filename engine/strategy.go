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
	"errors"
	"fmt"

	"github.com/rulego/flowmesh/api/types"
)

// Strategy names.
const (
	StrategyDirect      = "direct"
	StrategyQueued      = "queued"
	StrategyNonBlocking = "non-blocking"
)

var errStrategyStopped = errors.New("processing strategy is stopped")

// StrategyOptions configures a strategy created by NewProcessingStrategy.
// Zero values select the strategy defaults.
type StrategyOptions struct {
	Workers         int  `mapstructure:"workers" yaml:"workers"`
	QueueSize       int  `mapstructure:"queueSize" yaml:"queueSize"`
	BufferSize      int  `mapstructure:"bufferSize" yaml:"bufferSize"`
	BlockingEnqueue bool `mapstructure:"blockingEnqueue" yaml:"blockingEnqueue"`
	Loops           int  `mapstructure:"loops" yaml:"loops"`
}

// NewProcessingStrategy creates a new strategy instance by name.
func NewProcessingStrategy(name string, opts StrategyOptions) (types.ProcessingStrategy, error) {
	switch name {
	case "", StrategyDirect:
		return &DirectStrategy{}, nil
	case StrategyQueued:
		return &QueuedStrategy{
			Workers:         opts.Workers,
			QueueSize:       opts.QueueSize,
			BufferSize:      opts.BufferSize,
			BlockingEnqueue: opts.BlockingEnqueue,
		}, nil
	case StrategyNonBlocking:
		return &NonBlockingStrategy{Loops: opts.Loops, QueueSize: opts.QueueSize}, nil
	default:
		return nil, fmt.Errorf("%w: unknown processing strategy %q", types.ErrInvalidFlow, name)
	}
}

var _ types.ProcessingStrategy = (*DirectStrategy)(nil)

// DirectStrategy runs the chain on the calling goroutine. The caller blocks until completion.
type DirectStrategy struct{}

func (s *DirectStrategy) Name() string {
	return StrategyDirect
}

func (s *DirectStrategy) Start() error {
	return nil
}

func (s *DirectStrategy) Stop() error {
	return nil
}

func (s *DirectStrategy) Backlog() int {
	return 0
}

func (s *DirectStrategy) Execute(ctx context.Context, chain types.Chain, event *types.Event, done types.DoneFunc) error {
	result, err := chain.Process(ctx, event)
	done(result, err)
	return nil
}
