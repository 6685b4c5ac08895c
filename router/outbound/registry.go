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

// Package outbound provides the routers of outbound collections: single target
// dispatch, chaining, selection, fan-out and splitting.
//
// Every router accepts an optional `filter` expression checked by IsMatch, a
// list of `targets` resolved through Config.Resolver with optional per-target
// timeouts, `parallel` to fan out concurrently and `aggregate` to merge the
// target responses with router.ResponseCollection.
//
// Package outbound 提供出站路由器：单目标分发、链式、选择、扇出和拆分。
package outbound

import (
	"context"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/router"
)

// Registry collects the outbound router prototypes of this package.
var Registry = &types.SafeComponentSlice{}

// Configuration is the part shared by all outbound router configurations.
type Configuration struct {
	// Filter is an optional expression deciding whether the router applies.
	Filter              string
	router.TargetConfig `mapstructure:",squash"`
	// Parallel sends to the targets concurrently.
	Parallel bool
	// Aggregate merges the target responses into one event.
	Aggregate bool
}

// routerBase holds what every outbound router needs at runtime.
type routerBase struct {
	config     types.Config
	targets    router.TargetConfig
	filter     *base.Predicate
	dispatcher *router.Dispatcher
}

func (b *routerBase) init(ruleConfig types.Config, name string, c Configuration) error {
	b.config = ruleConfig
	b.targets = c.TargetConfig
	if c.Filter != "" {
		p, err := base.NewPredicate(ruleConfig, c.Filter)
		if err != nil {
			return err
		}
		b.filter = p
	}
	b.dispatcher = &router.Dispatcher{Config: ruleConfig, Name: name, Parallel: c.Parallel}
	if c.Aggregate {
		b.dispatcher.Aggregator = &router.ResponseCollection{}
	}
	return nil
}

// IsMatch evaluates the filter. Without one the router always applies.
func (b *routerBase) IsMatch(ctx context.Context, event *types.Event) (bool, error) {
	if b.filter == nil {
		return true, nil
	}
	return b.filter.Test(event)
}

func (b *routerBase) resolveAll(addresses []string) ([]router.Target, error) {
	return b.targets.ResolveAll(b.config, addresses)
}

// fanOut sends every event to every target, events first.
func (b *routerBase) fanOut(ctx context.Context, parent *types.Event, targets []router.Target, events []*types.Event) (*types.Event, error) {
	pairedTargets := make([]router.Target, 0, len(targets)*len(events))
	pairedEvents := make([]*types.Event, 0, len(targets)*len(events))
	for _, e := range events {
		for i, t := range targets {
			pairedTargets = append(pairedTargets, t)
			if i == 0 {
				pairedEvents = append(pairedEvents, e)
			} else {
				pairedEvents = append(pairedEvents, e.Copy())
			}
		}
	}
	return b.dispatcher.Dispatch(ctx, parent, pairedTargets, pairedEvents)
}

func (b *routerBase) Destroy() {
}
