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

package types

import (
	"sort"
	"sync"
)

// Component is a configurable, registrable building block.
// Processor components also implement Processor, router components implement Router.
type Component interface {
	// New creates a new, uninitialised instance.
	New() Component
	// Type returns the registry name of the component.
	Type() string
	// Init initialises the component from its configuration.
	Init(config Config, configuration Configuration) error
	// Destroy releases resources held by the component.
	Destroy()
}

// ComponentRegistry stores component prototypes by type.
type ComponentRegistry interface {
	Register(component Component) error
	Unregister(componentType string) error
	// NewComponent creates an uninitialised instance of the type.
	NewComponent(componentType string) (Component, error)
	// Types returns the registered types sorted by name.
	Types() []string
}

// SafeComponentSlice collects component prototypes from package init functions.
type SafeComponentSlice struct {
	components []Component
	sync.Mutex
}

// Add adds components safely.
func (p *SafeComponentSlice) Add(components ...Component) {
	p.Lock()
	defer p.Unlock()
	p.components = append(p.components, components...)
}

// Components returns the collected components.
func (p *SafeComponentSlice) Components() []Component {
	p.Lock()
	defer p.Unlock()
	c := make([]Component, len(p.components))
	copy(c, p.components)
	return c
}

// ComponentRegistryMap is a thread safe ComponentRegistry.
type ComponentRegistryMap struct {
	// name is used in error messages.
	name       string
	components map[string]Component
	lock       sync.RWMutex
}

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry(name string) *ComponentRegistryMap {
	return &ComponentRegistryMap{name: name, components: make(map[string]Component)}
}

func (r *ComponentRegistryMap) Register(component Component) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.components[component.Type()]; ok {
		return &ComponentError{Registry: r.name, Type: component.Type(), Err: ErrComponentExists}
	}
	r.components[component.Type()] = component
	return nil
}

// RegisterAll registers every component and stops at the first error.
func (r *ComponentRegistryMap) RegisterAll(components ...Component) error {
	for _, c := range components {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (r *ComponentRegistryMap) Unregister(componentType string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.components[componentType]; !ok {
		return &ComponentError{Registry: r.name, Type: componentType, Err: ErrComponentNotFound}
	}
	delete(r.components, componentType)
	return nil
}

func (r *ComponentRegistryMap) NewComponent(componentType string) (Component, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if c, ok := r.components[componentType]; ok {
		return c.New(), nil
	}
	return nil, &ComponentError{Registry: r.name, Type: componentType, Err: ErrComponentNotFound}
}

func (r *ComponentRegistryMap) Types() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var types []string
	for k := range r.components {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// ComponentError names the registry and type a lookup failed for.
type ComponentError struct {
	Registry string
	Type     string
	Err      error
}

func (e *ComponentError) Error() string {
	return e.Registry + " " + e.Type + ": " + e.Err.Error()
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}
