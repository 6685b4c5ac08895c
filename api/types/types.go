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

// Package types defines the contracts shared by flows, processors, routers and sources.
package types

import (
	"context"
	"time"
)

// Script types
const (
	Js = "Js"
)

// Configuration is the raw configuration of a component.
type Configuration map[string]interface{}

// Processor transforms one event into zero or one events.
// A nil event with a nil error means the event was consumed and the chain stops.
type Processor interface {
	Process(ctx context.Context, event *Event) (*Event, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, event *Event) (*Event, error)

func (f ProcessorFunc) Process(ctx context.Context, event *Event) (*Event, error) {
	return f(ctx, event)
}

// AsyncProcessor is a processor that completes later without holding the calling goroutine.
// The callback must be invoked exactly once.
type AsyncProcessor interface {
	Processor
	ProcessAsync(ctx context.Context, event *Event, callback func(*Event, error))
}

// Filter accepts or rejects events.
type Filter interface {
	Accept(ctx context.Context, event *Event) (bool, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, event *Event) (bool, error)

func (f FilterFunc) Accept(ctx context.Context, event *Event) (bool, error) {
	return f(ctx, event)
}

// SecurityProvider authenticates an event.
type SecurityProvider interface {
	Authenticate(ctx context.Context, event *Event) error
}

// SecurityProviderFunc adapts a function to SecurityProvider.
type SecurityProviderFunc func(ctx context.Context, event *Event) error

func (f SecurityProviderFunc) Authenticate(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Router decides whether it applies to an event and routes it.
type Router interface {
	IsMatch(ctx context.Context, event *Event) (bool, error)
	Route(ctx context.Context, event *Event) (*Event, error)
}

// CatchAllStrategy handles events no router matched.
type CatchAllStrategy interface {
	Catch(ctx context.Context, event *Event) (*Event, error)
}

// Response is the result of one routing target.
type Response struct {
	// Index is the position of the target in the route order.
	Index  int
	Target string
	Event  *Event
	Err    error
}

// ResponseAggregator combines the responses of several targets into one event.
type ResponseAggregator interface {
	Aggregate(ctx context.Context, parent *Event, responses []Response) (*Event, error)
}

// Chain is an ordered list of processors.
type Chain interface {
	Processor
	Stages() []Processor
}

// ExceptionHandler is invoked when a chain raises an error.
// It may turn the failure into a result by returning a nil error.
type ExceptionHandler interface {
	Handle(ctx context.Context, event *Event, err error) (*Event, error)
}

// ExceptionHandlerFunc adapts a function to ExceptionHandler.
type ExceptionHandlerFunc func(ctx context.Context, event *Event, err error) (*Event, error)

func (f ExceptionHandlerFunc) Handle(ctx context.Context, event *Event, err error) (*Event, error) {
	return f(ctx, event, err)
}

// DoneFunc receives the final outcome of one flow invocation. It is called exactly once.
type DoneFunc func(result *Event, err error)

// ProcessingStrategy decides on which goroutine each chain stage runs.
type ProcessingStrategy interface {
	Name() string
	Start() error
	Stop() error
	// Execute schedules the chain for the event and calls done with the outcome.
	// It returns a *BackPressureError when the event could not be accepted, in
	// which case done is never called.
	Execute(ctx context.Context, chain Chain, event *Event, done DoneFunc) error
	// Backlog returns the number of accepted events waiting to run.
	Backlog() int
}

// EventSink is what a source pushes events into. Flows implement it.
type EventSink interface {
	Name() string
	// Process runs the event and waits for the result.
	Process(ctx context.Context, event *Event) (*Event, error)
	// Dispatch submits the event and returns at once. Admission errors are returned synchronously.
	Dispatch(ctx context.Context, event *Event, done DoneFunc) error
}

// Source emits events into a flow.
type Source interface {
	Start(sink EventSink) error
	Stop() error
}

// EndpointResolver resolves a logical address to a processor.
type EndpointResolver interface {
	Resolve(address string) (Processor, error)
}

// IdempotentStore records keys seen within a time window.
type IdempotentStore interface {
	// StoreIfAbsent stores key and reports true if it was not present.
	StoreIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Pool runs tasks on a goroutine pool.
type Pool interface {
	// Submit returns an error when the pool has no capacity.
	Submit(task func()) error
	Release()
}

// ScriptFunc is a function usable from expressions and scripts.
type ScriptFunc = func(args ...interface{}) (interface{}, error)
