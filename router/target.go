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

package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rulego/flowmesh/api/types"
)

// TargetConfig is the target part of a router configuration.
type TargetConfig struct {
	// Targets are addresses resolved through Config.Resolver, e.g. `flow://orders`.
	Targets []string `mapstructure:"targets"`
	// Timeout applies to every target without an entry in Timeouts. 0 means none.
	Timeout time.Duration `mapstructure:"timeout"`
	// Timeouts overrides Timeout per address.
	Timeouts map[string]time.Duration `mapstructure:"timeouts"`
}

// TimeoutFor returns the timeout of address.
func (c TargetConfig) TimeoutFor(address string) time.Duration {
	if d, ok := c.Timeouts[address]; ok {
		return d
	}
	return c.Timeout
}

// Target is a resolved routing destination.
type Target struct {
	Address   string
	Processor types.Processor
	Timeout   time.Duration
}

// Resolve resolves one address.
func (c TargetConfig) Resolve(config types.Config, address string) (Target, error) {
	if config.Resolver == nil {
		return Target{}, fmt.Errorf("%w: %s (no resolver configured)", types.ErrEndpointNotFound, address)
	}
	p, err := config.Resolver.Resolve(address)
	if err != nil {
		return Target{}, err
	}
	return Target{Address: address, Processor: p, Timeout: c.TimeoutFor(address)}, nil
}

// ResolveAll resolves addresses in order. An empty list fails with types.ErrNoTargets.
func (c TargetConfig) ResolveAll(config types.Config, addresses []string) ([]Target, error) {
	if len(addresses) == 0 {
		return nil, types.ErrNoTargets
	}
	targets := make([]Target, 0, len(addresses))
	for _, address := range addresses {
		t, err := c.Resolve(config, address)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// Invoke runs the target processor, bounded by the target timeout.
// Expiry fails with types.ErrTargetTimeout. A panic in the processor is returned as an error.
func (t Target) Invoke(ctx context.Context, event *types.Event) (*types.Event, error) {
	if t.Timeout <= 0 {
		return safeProcess(ctx, t.Processor, event)
	}
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()
	type outcome struct {
		event *types.Event
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := safeProcess(ctx, t.Processor, event)
		ch <- outcome{event: result, err: err}
	}()
	select {
	case o := <-ch:
		return o.event, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", types.ErrTargetTimeout, t.Address, t.Timeout)
		}
		return nil, ctx.Err()
	}
}

func safeProcess(ctx context.Context, p types.Processor, event *types.Event) (result *types.Event, err error) {
	defer func() {
		if e := recover(); e != nil {
			result, err = nil, fmt.Errorf("target panic: %v", e)
		}
	}()
	return p.Process(ctx, event)
}

// Dispatcher sends events to targets, in parallel or in order, and reduces the responses.
type Dispatcher struct {
	Config types.Config
	// Name is used in logs.
	Name     string
	Parallel bool
	// Aggregator merges the responses. Without one, OneWay events are sent
	// fire-and-forget and the original event is returned, RequestResponse
	// events return the result of the last target.
	Aggregator types.ResponseAggregator
}

// Dispatch sends events[i] to targets[i].
func (d *Dispatcher) Dispatch(ctx context.Context, parent *types.Event, targets []Target, events []*types.Event) (*types.Event, error) {
	if len(targets) == 0 {
		return nil, types.ErrNoTargets
	}
	if d.Aggregator == nil && parent.ExchangePattern() == types.OneWay {
		detached := context.WithoutCancel(ctx)
		d.Config.Go(func() {
			for _, r := range d.FanOut(detached, targets, events) {
				if r.Err != nil {
					d.Config.Printf("router %s target %s error: %v", d.Name, r.Target, r.Err)
				}
			}
		})
		return parent, nil
	}
	responses := d.FanOut(ctx, targets, events)
	if d.Aggregator != nil {
		return d.Aggregator.Aggregate(ctx, parent, responses)
	}
	var errs []error
	for _, r := range responses {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", r.Target, r.Err))
		}
	}
	if len(errs) > 0 {
		return parent, errors.Join(errs...)
	}
	return responses[len(responses)-1].Event, nil
}

// FanOut sends events[i] to targets[i] and returns the responses in target order.
func (d *Dispatcher) FanOut(ctx context.Context, targets []Target, events []*types.Event) []types.Response {
	responses := make([]types.Response, len(targets))
	if !d.Parallel || len(targets) == 1 {
		for i, t := range targets {
			result, err := t.Invoke(ctx, events[i])
			responses[i] = types.Response{Index: i, Target: t.Address, Event: result, Err: err}
		}
		return responses
	}
	var wg sync.WaitGroup
	wg.Add(len(targets))
	for i, t := range targets {
		i, t := i, t
		d.Config.Go(func() {
			defer wg.Done()
			result, err := t.Invoke(ctx, events[i])
			responses[i] = types.Response{Index: i, Target: t.Address, Event: result, Err: err}
		})
	}
	wg.Wait()
	return responses
}

// Same returns n copies of event, one per target.
func Same(event *types.Event, n int) []*types.Event {
	events := make([]*types.Event, n)
	for i := range events {
		events[i] = event.Copy()
	}
	return events
}
