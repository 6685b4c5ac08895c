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
	"fmt"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/action"
	"github.com/rulego/flowmesh/components/external"
	"github.com/rulego/flowmesh/components/filter"
	"github.com/rulego/flowmesh/components/transform"
	"github.com/rulego/flowmesh/router"
	"github.com/rulego/flowmesh/router/inbound"
	"github.com/rulego/flowmesh/router/outbound"
)

// Registry holds the built-in component types.
// 默认组件注册器
var Registry = NewRegistries()

func init() {
	for _, slice := range []*types.SafeComponentSlice{filter.Registry, transform.Registry, action.Registry, external.Registry} {
		if err := Registry.Processors.RegisterAll(slice.Components()...); err != nil {
			panic(err)
		}
	}
	if err := Registry.Inbound.RegisterAll(inbound.Registry.Components()...); err != nil {
		panic(err)
	}
	if err := Registry.Outbound.RegisterAll(outbound.Registry.Components()...); err != nil {
		panic(err)
	}
}

// Registries keeps processors, inbound routers and outbound routers in separate
// namespaces. The same type name may exist once in each of them.
type Registries struct {
	Processors *types.ComponentRegistryMap
	Inbound    *types.ComponentRegistryMap
	Outbound   *types.ComponentRegistryMap
}

// NewRegistries creates empty registries.
func NewRegistries() *Registries {
	return &Registries{
		Processors: types.NewComponentRegistry("processor"),
		Inbound:    types.NewComponentRegistry("inbound router"),
		Outbound:   types.NewComponentRegistry("outbound router"),
	}
}

// ComponentDef names a component type and its configuration.
type ComponentDef struct {
	Type          string              `json:"type" yaml:"type"`
	Configuration types.Configuration `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// RouterCollectionDef defines an ordered router collection and its catch-all.
type RouterCollectionDef struct {
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Routers []ComponentDef `json:"routers" yaml:"routers"`
	// CatchAll is one of router.CatchAllForwarding, router.CatchAllLogging or empty.
	CatchAll              string              `json:"catchAll,omitempty" yaml:"catchAll,omitempty"`
	CatchAllConfiguration types.Configuration `json:"catchAllConfiguration,omitempty" yaml:"catchAllConfiguration,omitempty"`
}

// StageDef is one step of a flow. Exactly one field is set.
type StageDef struct {
	Processor *ComponentDef        `json:"processor,omitempty" yaml:"processor,omitempty"`
	Inbound   *RouterCollectionDef `json:"inbound,omitempty" yaml:"inbound,omitempty"`
	Outbound  *RouterCollectionDef `json:"outbound,omitempty" yaml:"outbound,omitempty"`
}

// FlowDef is the unresolved definition of a flow.
type FlowDef struct {
	Name           string          `json:"name" yaml:"name"`
	Filter         *ComponentDef   `json:"filter,omitempty" yaml:"filter,omitempty"`
	SecurityFilter *ComponentDef   `json:"securityFilter,omitempty" yaml:"securityFilter,omitempty"`
	Stages         []StageDef      `json:"stages" yaml:"stages"`
	MaxConcurrency int             `json:"maxConcurrency,omitempty" yaml:"maxConcurrency,omitempty"`
	Strategy       string          `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	StrategyOpts   StrategyOptions `json:"strategyOptions,omitempty" yaml:"strategyOptions,omitempty"`
	LagThreshold   int             `json:"lagThreshold,omitempty" yaml:"lagThreshold,omitempty"`
	DrainTimeout   time.Duration   `json:"drainTimeout,omitempty" yaml:"drainTimeout,omitempty"`
}

func newComponent(registry *types.ComponentRegistryMap, config types.Config, def ComponentDef) (types.Component, error) {
	c, err := registry.NewComponent(def.Type)
	if err != nil {
		return nil, err
	}
	if err := c.Init(config, def.Configuration); err != nil {
		return nil, fmt.Errorf("init %s: %w", def.Type, err)
	}
	return c, nil
}

// NewProcessor creates and initialises a processor.
func (r *Registries) NewProcessor(config types.Config, def ComponentDef) (types.Processor, error) {
	c, err := newComponent(r.Processors, config, def)
	if err != nil {
		return nil, err
	}
	p, ok := c.(types.Processor)
	if !ok {
		c.Destroy()
		return nil, fmt.Errorf("%w: %s is not a processor", types.ErrInvalidFlow, def.Type)
	}
	return p, nil
}

// NewInboundRouter creates and initialises an inbound router.
func (r *Registries) NewInboundRouter(config types.Config, def ComponentDef) (types.Router, error) {
	return newRouter(r.Inbound, config, def)
}

// NewOutboundRouter creates and initialises an outbound router.
func (r *Registries) NewOutboundRouter(config types.Config, def ComponentDef) (types.Router, error) {
	return newRouter(r.Outbound, config, def)
}

func newRouter(registry *types.ComponentRegistryMap, config types.Config, def ComponentDef) (types.Router, error) {
	c, err := newComponent(registry, config, def)
	if err != nil {
		return nil, err
	}
	rt, ok := c.(types.Router)
	if !ok {
		c.Destroy()
		return nil, fmt.Errorf("%w: %s is not a router", types.ErrInvalidFlow, def.Type)
	}
	return rt, nil
}

// NewInboundCollection builds an inbound router collection.
func (r *Registries) NewInboundCollection(config types.Config, def RouterCollectionDef) (*router.Collection, error) {
	return r.newCollection(r.Inbound, config, def)
}

// NewOutboundCollection builds an outbound router collection.
func (r *Registries) NewOutboundCollection(config types.Config, def RouterCollectionDef) (*router.Collection, error) {
	return r.newCollection(r.Outbound, config, def)
}

func (r *Registries) newCollection(registry *types.ComponentRegistryMap, config types.Config, def RouterCollectionDef) (*router.Collection, error) {
	catchAll, err := router.NewCatchAll(config, def.CatchAll, def.CatchAllConfiguration)
	if err != nil {
		return nil, err
	}
	routers := make([]types.Router, 0, len(def.Routers))
	for _, rd := range def.Routers {
		rt, err := newRouter(registry, config, rd)
		if err != nil {
			destroyAll(routers)
			return nil, err
		}
		routers = append(routers, rt)
	}
	return router.NewCollection(config, def.Name, catchAll, routers...), nil
}

func destroyAll[T any](items []T) {
	for _, item := range items {
		if d, ok := any(item).(interface{ Destroy() }); ok {
			d.Destroy()
		}
	}
}

// NewStage resolves one stage of a flow.
func (r *Registries) NewStage(config types.Config, def StageDef) (types.Processor, error) {
	set := 0
	for _, ok := range []bool{def.Processor != nil, def.Inbound != nil, def.Outbound != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: a stage sets exactly one of processor, inbound, outbound", types.ErrInvalidFlow)
	}
	if def.Processor != nil {
		return r.NewProcessor(config, *def.Processor)
	}
	var c *router.Collection
	var err error
	if def.Inbound != nil {
		c, err = r.NewInboundCollection(config, *def.Inbound)
	} else {
		c, err = r.NewOutboundCollection(config, *def.Outbound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Resolve turns def into a FlowConfig. Components created before a failure are destroyed.
func (r *Registries) Resolve(config types.Config, def FlowDef) (FlowConfig, error) {
	fc := FlowConfig{
		Name:           def.Name,
		MaxConcurrency: def.MaxConcurrency,
		LagThreshold:   def.LagThreshold,
		DrainTimeout:   def.DrainTimeout,
	}
	var created []types.Processor
	fail := func(err error) (FlowConfig, error) {
		destroyAll(created)
		return FlowConfig{}, fmt.Errorf("flow %s: %w", def.Name, err)
	}
	if def.Filter != nil {
		p, err := r.NewProcessor(config, *def.Filter)
		if err != nil {
			return fail(err)
		}
		created = append(created, p)
		fc.Filter = p
	}
	if def.SecurityFilter != nil {
		p, err := r.NewProcessor(config, *def.SecurityFilter)
		if err != nil {
			return fail(err)
		}
		created = append(created, p)
		fc.SecurityFilter = p
	}
	for _, sd := range def.Stages {
		p, err := r.NewStage(config, sd)
		if err != nil {
			return fail(err)
		}
		created = append(created, p)
		fc.Processors = append(fc.Processors, p)
	}
	strategy, err := NewProcessingStrategy(def.Strategy, def.StrategyOpts)
	if err != nil {
		return fail(err)
	}
	fc.Strategy = strategy
	return fc, nil
}
