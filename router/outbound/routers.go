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

package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/expr-lang/expr/vm"
	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/router"
	"github.com/rulego/flowmesh/utils/cast"
	"github.com/rulego/flowmesh/utils/maps"
)

func init() {
	Registry.Add(&PassThroughRouter{}, &FilteringRouter{}, &ChainingRouter{},
		&EndpointSelector{}, &ExceptionBasedRouter{})
}

// PassThroughRouter sends the event to its single target, or returns it
// unchanged when no target is configured.
type PassThroughRouter struct {
	routerBase
	Config Configuration
}

func (x *PassThroughRouter) Type() string {
	return "passThrough"
}

func (x *PassThroughRouter) New() types.Component {
	return &PassThroughRouter{}
}

func (x *PassThroughRouter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if len(x.Config.Targets) > 1 {
		return fmt.Errorf("%s accepts at most one target, got %d", x.Type(), len(x.Config.Targets))
	}
	return x.init(ruleConfig, x.Type(), x.Config)
}

func (x *PassThroughRouter) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	if len(x.Config.Targets) == 0 {
		return event, nil
	}
	targets, err := x.resolveAll(x.Config.Targets)
	if err != nil {
		return event, err
	}
	return x.dispatcher.Dispatch(ctx, event, targets, []*types.Event{event})
}

// FilteringRouter sends the events accepted by its filter to its targets.
type FilteringRouter struct {
	routerBase
	Config Configuration
}

func (x *FilteringRouter) Type() string {
	return "filtering"
}

func (x *FilteringRouter) New() types.Component {
	return &FilteringRouter{}
}

func (x *FilteringRouter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Filter == "" {
		return errors.New("filtering router requires a filter")
	}
	if len(x.Config.Targets) == 0 {
		return types.ErrNoTargets
	}
	return x.init(ruleConfig, x.Type(), x.Config)
}

func (x *FilteringRouter) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	targets, err := x.resolveAll(x.Config.Targets)
	if err != nil {
		return event, err
	}
	return x.dispatcher.Dispatch(ctx, event, targets, router.Same(event, len(targets)))
}

// ChainingConfiguration 链式路由器配置
type ChainingConfiguration struct {
	Configuration `mapstructure:",squash"`
	// ContinueOnError passes the input of a failed step to the next target
	// instead of aborting the chain.
	ContinueOnError bool
}

// ChainingRouter feeds the result of each target into the next one and
// returns the result of the last. A target that absorbs the event ends the chain.
type ChainingRouter struct {
	routerBase
	Config ChainingConfiguration
}

func (x *ChainingRouter) Type() string {
	return "chaining"
}

func (x *ChainingRouter) New() types.Component {
	return &ChainingRouter{}
}

func (x *ChainingRouter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if len(x.Config.Targets) == 0 {
		return types.ErrNoTargets
	}
	return x.init(ruleConfig, x.Type(), x.Config.Configuration)
}

func (x *ChainingRouter) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	targets, err := x.resolveAll(x.Config.Targets)
	if err != nil {
		return event, err
	}
	current := event
	var errs []error
	for _, t := range targets {
		result, err := t.Invoke(ctx, current)
		if err != nil {
			if !x.Config.ContinueOnError {
				return current, fmt.Errorf("chain step %s: %w", t.Address, err)
			}
			x.config.Printf("%s: step %s error, continuing: %v", x.Type(), t.Address, err)
			errs = append(errs, fmt.Errorf("chain step %s: %w", t.Address, err))
			continue
		}
		if result == nil {
			return nil, nil
		}
		current = result
	}
	if len(errs) == len(targets) {
		return current, errors.Join(errs...)
	}
	return current, nil
}

// EndpointSelectorConfiguration 端点选择器配置
type EndpointSelectorConfiguration struct {
	Configuration `mapstructure:",squash"`
	// Selector evaluates to one of the target addresses, or to its index in Targets.
	Selector string
}

// EndpointSelector evaluates Selector once per event and sends the event to the
// one target it names.
type EndpointSelector struct {
	routerBase
	Config   EndpointSelectorConfiguration
	selector *vm.Program
}

func (x *EndpointSelector) Type() string {
	return "endpointSelector"
}

func (x *EndpointSelector) New() types.Component {
	return &EndpointSelector{}
}

func (x *EndpointSelector) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if len(x.Config.Targets) == 0 {
		return types.ErrNoTargets
	}
	program, err := base.CompileExpr(x.Config.Selector)
	if err != nil {
		return err
	}
	x.selector = program
	return x.init(ruleConfig, x.Type(), x.Config.Configuration)
}

// Select returns the address chosen for event.
func (x *EndpointSelector) Select(event *types.Event) (string, error) {
	out, err := vm.Run(x.selector, base.NodeUtils.GetEnv(x.config, event))
	if err != nil {
		return "", err
	}
	if address, ok := out.(string); ok {
		for _, t := range x.Config.Targets {
			if t == address {
				return address, nil
			}
		}
		return "", fmt.Errorf("%w: %q is not a configured target", types.ErrEndpointNotFound, address)
	}
	i, err := cast.ToIntE(out)
	if err != nil {
		return "", fmt.Errorf("selector result: %w", err)
	}
	if i < 0 || i >= len(x.Config.Targets) {
		return "", fmt.Errorf("%w: target index %d out of range", types.ErrEndpointNotFound, i)
	}
	return x.Config.Targets[i], nil
}

func (x *EndpointSelector) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	address, err := x.Select(event)
	if err != nil {
		return event, err
	}
	t, err := x.targets.Resolve(x.config, address)
	if err != nil {
		return event, err
	}
	return x.dispatcher.Dispatch(ctx, event, []router.Target{t}, []*types.Event{event})
}

// ExceptionBasedRouter tries its targets in order. The first target that
// completes without error wins. When all fail the error of the last one is returned.
type ExceptionBasedRouter struct {
	routerBase
	Config Configuration
}

func (x *ExceptionBasedRouter) Type() string {
	return "exceptionBased"
}

func (x *ExceptionBasedRouter) New() types.Component {
	return &ExceptionBasedRouter{}
}

func (x *ExceptionBasedRouter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if len(x.Config.Targets) == 0 {
		return types.ErrNoTargets
	}
	return x.init(ruleConfig, x.Type(), x.Config)
}

func (x *ExceptionBasedRouter) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	var lastErr error
	for _, address := range x.Config.Targets {
		t, err := x.targets.Resolve(x.config, address)
		if err == nil {
			var result *types.Event
			if result, err = t.Invoke(ctx, event.Copy()); err == nil {
				return result, nil
			}
		}
		x.config.Printf("%s: target %s failed: %v", x.Type(), address, err)
		lastErr = fmt.Errorf("target %s: %w", address, err)
	}
	return event, lastErr
}
