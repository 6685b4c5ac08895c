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
	"strings"
	"sync"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/utils/cache"
)

var _ types.EndpointResolver = (*Runtime)(nil)

// Callbacks are hooks for registry changes.
type Callbacks struct {
	OnNew     func(name string)
	OnDeleted func(name string)
}

// Runtime owns a set of flows and named endpoints.
// It resolves target addresses for routers: `flow://name` addresses a flow,
// other names address a registered endpoint first and a flow second.
//
// Runtime 管理一组流和具名端点。
type Runtime struct {
	config    types.Config
	flows     sync.Map
	endpoints sync.Map
	hub       *NotifierHub
	Callbacks Callbacks
}

// NewConfig creates a config with the engine defaults: an in-memory idempotent store.
func NewConfig(opts ...types.Option) types.Config {
	c := types.NewConfig(opts...)
	if c.IdempotentStore == nil {
		c.IdempotentStore = cache.NewIdempotentStore(nil, "idempotent:")
	}
	return c
}

// NewRuntime creates a runtime. Unless a resolver is configured the runtime resolves targets itself.
func NewRuntime(opts ...types.Option) *Runtime {
	config := NewConfig(opts...)
	r := &Runtime{hub: NewNotifierHub()}
	if config.Notifier != nil {
		r.hub.Add(config.Notifier)
	}
	config.Notifier = r.hub
	if config.Resolver == nil {
		config.Resolver = r
	}
	r.config = config
	return r
}

// Config returns the config shared by the flows of the runtime.
func (r *Runtime) Config() types.Config {
	return r.config
}

// AddNotifier registers a notification listener.
func (r *Runtime) AddNotifier(n types.Notifier) {
	r.hub.Add(n)
}

// NewFlow creates, initialises and registers a flow.
func (r *Runtime) NewFlow(def FlowConfig) (*Flow, error) {
	flow, err := NewFlow(r.config, def)
	if err != nil {
		return nil, err
	}
	if err := flow.Initialise(); err != nil {
		return nil, err
	}
	if err := r.Register(flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// Deploy resolves def against Registry and creates the flow. source may be nil.
func (r *Runtime) Deploy(def FlowDef, source types.Source) (*Flow, error) {
	fc, err := Registry.Resolve(r.config, def)
	if err != nil {
		return nil, err
	}
	fc.Source = source
	flow, err := r.NewFlow(fc)
	if err != nil {
		for _, p := range append([]types.Processor{fc.Filter, fc.SecurityFilter}, fc.Processors...) {
			if d, ok := p.(interface{ Destroy() }); ok {
				d.Destroy()
			}
		}
		return nil, err
	}
	return flow, nil
}

// Register adds a flow under its name.
func (r *Runtime) Register(flow *Flow) error {
	if _, loaded := r.flows.LoadOrStore(flow.Name(), flow); loaded {
		return fmt.Errorf("%w: %s", types.ErrFlowExists, flow.Name())
	}
	if r.Callbacks.OnNew != nil {
		r.Callbacks.OnNew(flow.Name())
	}
	return nil
}

// Get retrieves a flow by name.
func (r *Runtime) Get(name string) (*Flow, bool) {
	v, ok := r.flows.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*Flow), true
}

// Remove stops and disposes a flow and deletes it from the registry.
func (r *Runtime) Remove(ctx context.Context, name string) error {
	v, ok := r.flows.Load(name)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrFlowNotFound, name)
	}
	flow := v.(*Flow)
	var stopErr error
	if flow.State() == Started {
		stopErr = flow.Stop(ctx)
	}
	if err := flow.Dispose(); err != nil {
		return errors.Join(stopErr, err)
	}
	r.flows.Delete(name)
	if r.Callbacks.OnDeleted != nil {
		r.Callbacks.OnDeleted(name)
	}
	return stopErr
}

// Flows returns the registered flows sorted by name.
func (r *Runtime) Flows() []*Flow {
	var flows []*Flow
	r.flows.Range(func(key, value any) bool {
		flows = append(flows, value.(*Flow))
		return true
	})
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].Name() < flows[j].Name()
	})
	return flows
}

// StartAll starts every stopped flow.
func (r *Runtime) StartAll() error {
	var errs []error
	for _, flow := range r.Flows() {
		if flow.State() != Stopped {
			continue
		}
		if err := flow.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every started flow.
func (r *Runtime) StopAll(ctx context.Context) error {
	var errs []error
	for _, flow := range r.Flows() {
		if flow.State() != Started {
			continue
		}
		if err := flow.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterEndpoint registers a named target processor.
func (r *Runtime) RegisterEndpoint(name string, processor types.Processor) error {
	if name == "" || processor == nil {
		return fmt.Errorf("%w: endpoint name and processor are required", types.ErrInvalidFlow)
	}
	if _, loaded := r.endpoints.LoadOrStore(name, processor); loaded {
		return fmt.Errorf("endpoint %s already registered", name)
	}
	return nil
}

// UnregisterEndpoint removes a named target.
func (r *Runtime) UnregisterEndpoint(name string) {
	r.endpoints.Delete(name)
}

func (r *Runtime) Resolve(address string) (types.Processor, error) {
	address = strings.TrimSpace(address)
	if name, ok := strings.CutPrefix(address, types.FlowScheme); ok {
		if flow, ok := r.Get(name); ok {
			return flow, nil
		}
		return nil, fmt.Errorf("%w: %s", types.ErrFlowNotFound, name)
	}
	if v, ok := r.endpoints.Load(address); ok {
		return v.(types.Processor), nil
	}
	if flow, ok := r.Get(address); ok {
		return flow, nil
	}
	return nil, fmt.Errorf("%w: %s", types.ErrEndpointNotFound, address)
}
