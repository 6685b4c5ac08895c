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
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProcessingStrategy(t *testing.T) {
	for name, want := range map[string]string{"": StrategyDirect, StrategyDirect: StrategyDirect, StrategyQueued: StrategyQueued, StrategyNonBlocking: StrategyNonBlocking} {
		s, err := NewProcessingStrategy(name, StrategyOptions{Workers: 2, Loops: 2})
		require.Nil(t, err)
		assert.Equal(t, want, s.Name())
	}
	_, err := NewProcessingStrategy("threads", StrategyOptions{})
	assert.ErrorIs(t, err, types.ErrInvalidFlow)
}

// Every strategy yields the same results for the same chain, async stages included.
func TestStrategiesAreEquivalent(t *testing.T) {
	config := test.Config(nil, nil)
	for _, name := range []string{StrategyDirect, StrategyQueued, StrategyNonBlocking} {
		t.Run(name, func(t *testing.T) {
			strategy, err := NewProcessingStrategy(name, StrategyOptions{Workers: 2, QueueSize: 32, Loops: 2})
			require.Nil(t, err)
			delay, err := Registry.NewProcessor(config, ComponentDef{Type: "delay", Configuration: types.Configuration{"period": "5ms"}})
			require.Nil(t, err)
			flow := startFlow(t, config, FlowConfig{
				Name:       "equivalent-" + name,
				Strategy:   strategy,
				Processors: []types.Processor{test.Echo("-a", 0), delay, test.Echo("-b", 0)},
			})
			var wg sync.WaitGroup
			var mu sync.Mutex
			var results []string
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					result, err := flow.Process(context.Background(), test.Text(fmt.Sprint(i)))
					if !assert.Nil(t, err) {
						return
					}
					mu.Lock()
					results = append(results, result.Payload().(string))
					mu.Unlock()
				}(i)
			}
			wg.Wait()
			sort.Strings(results)
			assert.Equal(t, []string{"0-a-b", "1-a-b", "2-a-b", "3-a-b", "4-a-b", "5-a-b", "6-a-b", "7-a-b", "8-a-b", "9-a-b"}, results)

			boom := errors.New("boom")
			failing := startFlow(t, config, FlowConfig{
				Name:       "failing-" + name,
				Strategy:   mustStrategy(t, name),
				Processors: []types.Processor{test.Echo("-a", 0), test.Failing(boom)},
			})
			result, err := failing.Process(context.Background(), test.Text("x"))
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, "x-a", result.Payload())
		})
	}
}

func mustStrategy(t *testing.T, name string) types.ProcessingStrategy {
	s, err := NewProcessingStrategy(name, StrategyOptions{Workers: 2, Loops: 2})
	require.Nil(t, err)
	return s
}

func TestQueuedStrategyBackPressure(t *testing.T) {
	blocking := test.NewBlocking()
	flow := startFlow(t, test.Config(nil, nil), FlowConfig{
		Name:       "queued",
		Strategy:   &QueuedStrategy{Workers: 1, QueueSize: 1},
		Processors: []types.Processor{blocking},
	})
	var wg sync.WaitGroup
	dispatch := func() error {
		wg.Add(1)
		err := flow.Dispatch(context.Background(), test.Text("x"), func(*types.Event, error) { wg.Done() })
		if err != nil {
			wg.Done()
		}
		return err
	}
	require.Nil(t, dispatch())
	require.True(t, blocking.WaitStarted(1, time.Second))
	require.Nil(t, dispatch())
	err := dispatch()
	bp, ok := types.AsBackPressure(err)
	require.True(t, ok)
	assert.Equal(t, types.RequiredSchedulerBusy, bp.Reason)
	assert.Equal(t, "queued", bp.Flow)
	assert.Equal(t, int64(2), flow.InFlight())

	blocking.Release()
	wg.Wait()
	assert.Equal(t, int64(0), flow.InFlight())
}

func TestQueuedStrategyFullBuffer(t *testing.T) {
	blocking := test.NewBlocking()
	flow := startFlow(t, test.Config(nil, nil), FlowConfig{
		Name:       "buffered",
		Strategy:   &QueuedStrategy{Workers: 1, QueueSize: 1, BufferSize: 2},
		Processors: []types.Processor{blocking},
	})
	var wg sync.WaitGroup
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		wg.Add(1)
		err = flow.Dispatch(context.Background(), test.Text("x"), func(*types.Event, error) { wg.Done() })
		if err != nil {
			wg.Done()
		}
	}
	bp, ok := types.AsBackPressure(err)
	require.True(t, ok)
	assert.Equal(t, types.RequiredSchedulerBusyWithFullBuffer, bp.Reason)
	blocking.Release()
	wg.Wait()
}

func TestQueuedStrategyStopTerminatesQueued(t *testing.T) {
	s := &QueuedStrategy{Workers: 1, QueueSize: 4}
	require.Nil(t, s.Start())
	blocking := test.NewBlocking()
	blocking.IgnoreContext = true
	chain := NewChain(blocking)
	results := make(chan error, 4)
	for i := 0; i < 3; i++ {
		require.Nil(t, s.Execute(context.Background(), chain, test.Text("x"), func(_ *types.Event, err error) { results <- err }))
	}
	require.True(t, blocking.WaitStarted(1, time.Second))
	assert.Equal(t, 2, s.Backlog())
	require.Nil(t, s.Stop())
	assert.ErrorIs(t, <-results, types.ErrForcedTermination)
	assert.ErrorIs(t, <-results, types.ErrForcedTermination)
	blocking.Release()
	assert.Nil(t, <-results)

	err := s.Execute(context.Background(), chain, test.Text("x"), func(*types.Event, error) {})
	bp, ok := types.AsBackPressure(err)
	require.True(t, ok)
	assert.Equal(t, types.RequiredSchedulerBusy, bp.Reason)
}

func TestLagThreshold(t *testing.T) {
	blocking := test.NewBlocking()
	flow := startFlow(t, test.Config(nil, nil), FlowConfig{
		Name:         "lagging",
		Strategy:     &QueuedStrategy{Workers: 1, QueueSize: 10},
		Processors:   []types.Processor{blocking},
		LagThreshold: 2,
	})
	var wg sync.WaitGroup
	dispatch := func() error {
		wg.Add(1)
		err := flow.Dispatch(context.Background(), test.Text("x"), func(*types.Event, error) { wg.Done() })
		if err != nil {
			wg.Done()
		}
		return err
	}
	require.Nil(t, dispatch())
	require.True(t, blocking.WaitStarted(1, time.Second))
	require.Nil(t, dispatch())
	require.Nil(t, dispatch())
	err := dispatch()
	bp, ok := types.AsBackPressure(err)
	require.True(t, ok)
	assert.Equal(t, types.EventsAccumulated, bp.Reason)
	assert.Equal(t, int64(1), flow.Statistics().RejectedBy(types.EventsAccumulated))
	blocking.Release()
	wg.Wait()
}

func TestNonBlockingStrategyReleasesLoop(t *testing.T) {
	config := test.Config(nil, nil)
	delay, err := Registry.NewProcessor(config, ComponentDef{Type: "delay", Configuration: types.Configuration{"period": "50ms"}})
	require.Nil(t, err)
	flow := startFlow(t, config, FlowConfig{
		Name:       "loop",
		Strategy:   &NonBlockingStrategy{Loops: 1},
		Processors: []types.Processor{delay},
	})
	// with one loop, ten suspended events complete in about one period
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.Nil(t, flow.Dispatch(context.Background(), test.Text("x"), func(_ *types.Event, err error) {
			assert.Nil(t, err)
			wg.Done()
		}))
	}
	wg.Wait()
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}
