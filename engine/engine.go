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

// Package engine implements flows: a processor chain run by a processing
// strategy behind admission control, with a managed lifecycle.
//
// Package engine 实现流：由处理策略在准入控制之后执行的处理器链，并具有受管理的生命周期。
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/api/types/metrics"
)

// DefaultDrainTimeout is the drain timeout used when FlowConfig.DrainTimeout is zero.
const DefaultDrainTimeout = 10 * time.Second

var (
	_ types.EventSink = (*Flow)(nil)
	_ types.Processor = (*Flow)(nil)
)

// FlowConfig is the resolved definition of a flow.
type FlowConfig struct {
	// Name is unique within a runtime.
	Name string
	// Processors run in order after the filters.
	Processors []types.Processor
	// Filter is the content filter. It always runs before SecurityFilter.
	Filter types.Processor
	// SecurityFilter runs after Filter and before Processors.
	SecurityFilter types.Processor
	// Source is started and stopped with the flow. Optional.
	Source types.Source
	// MaxConcurrency bounds the events in flight. 0 means unbounded.
	MaxConcurrency int
	// Strategy defaults to DirectStrategy. A strategy instance must not be shared by flows.
	Strategy types.ProcessingStrategy
	// ExceptionHandler defaults to DefaultExceptionHandler.
	ExceptionHandler types.ExceptionHandler
	// LagThreshold rejects new events with EventsAccumulated once the strategy backlog
	// reaches it. 0 disables the check.
	LagThreshold int
	// DrainTimeout bounds how long Stop waits for in-flight events.
	DrainTimeout time.Duration
}

// Flow is a named, lifecycle-managed processor chain.
// Flow 是一个具名的、受生命周期管理的处理器链。
type Flow struct {
	config           types.Config
	def              FlowConfig
	chain            *Chain
	strategy         types.ProcessingStrategy
	exceptionHandler types.ExceptionHandler
	drainTimeout     time.Duration

	lc        lifecycle
	admission admission
	stats     *metrics.FlowStatistics

	startAspects     []types.StartAspect
	completedAspects []types.CompletedAspect

	invocationSeq uint64
	inflight      sync.Map
	// opMu serialises lifecycle calls.
	opMu sync.Mutex
}

type invocation struct {
	key      uint64
	event    *types.Event
	ctx      context.Context
	cancel   context.CancelFunc
	permit   *permit
	done     types.DoneFunc
	finished int32
}

// NewFlow validates def and creates a flow in the Initializing state.
func NewFlow(config types.Config, def FlowConfig) (*Flow, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: name is required", types.ErrInvalidFlow)
	}
	if def.MaxConcurrency < 0 {
		return nil, fmt.Errorf("%w: flow %s max concurrency %d", types.ErrInvalidFlow, def.Name, def.MaxConcurrency)
	}
	if def.LagThreshold < 0 || def.DrainTimeout < 0 {
		return nil, fmt.Errorf("%w: flow %s negative threshold", types.ErrInvalidFlow, def.Name)
	}
	if config.Logger == nil {
		config.Logger = types.DefaultLogger()
	}
	f := &Flow{
		config:           config,
		def:              def,
		chain:            NewChain(append([]types.Processor{def.Filter, def.SecurityFilter}, def.Processors...)...),
		strategy:         def.Strategy,
		exceptionHandler: def.ExceptionHandler,
		drainTimeout:     def.DrainTimeout,
		admission:        admission{max: int64(def.MaxConcurrency)},
		stats:            metrics.NewFlowStatistics(),
		startAspects:     config.Aspects.StartAspects(),
		completedAspects: config.Aspects.CompletedAspects(),
	}
	if f.strategy == nil {
		f.strategy = &DirectStrategy{}
	}
	if f.exceptionHandler == nil {
		f.exceptionHandler = DefaultExceptionHandler{}
	}
	if f.drainTimeout == 0 {
		f.drainTimeout = DefaultDrainTimeout
	}
	return f, nil
}

func (f *Flow) Name() string {
	return f.def.Name
}

// State returns the current lifecycle state.
func (f *Flow) State() State {
	return f.lc.current()
}

// Statistics returns the live counters of the flow.
func (f *Flow) Statistics() *metrics.FlowStatistics {
	return f.stats
}

// InFlight returns the number of admitted events that have not completed.
func (f *Flow) InFlight() int64 {
	return f.admission.inFlight()
}

// Chain returns the processor chain, filters included.
func (f *Flow) Chain() *Chain {
	return f.chain
}

// Strategy returns the processing strategy.
func (f *Flow) Strategy() types.ProcessingStrategy {
	return f.strategy
}

// Initialise moves the flow from Initializing to Stopped.
func (f *Flow) Initialise() error {
	f.opMu.Lock()
	defer f.opMu.Unlock()
	return f.lc.transition(Stopped, Initializing)
}

// Start starts the strategy and the source, then admits events.
func (f *Flow) Start() error {
	f.opMu.Lock()
	defer f.opMu.Unlock()
	if err := f.lc.transition(Starting, Stopped); err != nil {
		return err
	}
	if err := f.strategy.Start(); err != nil {
		f.lc.set(Stopped)
		return fmt.Errorf("flow %s start %s strategy: %w", f.Name(), f.strategy.Name(), err)
	}
	// The source may push events as soon as it starts.
	f.lc.set(Started)
	if f.def.Source != nil {
		if err := f.def.Source.Start(f); err != nil {
			f.lc.set(Stopping)
			_ = f.strategy.Stop()
			f.lc.set(Stopped)
			return fmt.Errorf("flow %s start source: %w", f.Name(), err)
		}
	}
	f.config.Notify(types.NotificationFlowStarted, f.Name(), f.Name(), nil, nil)
	return nil
}

// Stop rejects new events, waits for in-flight events up to the drain timeout or
// until ctx is done, then force-terminates what is left. It returns an error
// wrapping types.ErrDrainTimeout when events had to be terminated.
func (f *Flow) Stop(ctx context.Context) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()
	if err := f.lc.transition(Stopping, Started); err != nil {
		return err
	}
	if f.def.Source != nil {
		if err := f.def.Source.Stop(); err != nil {
			f.config.Printf("flow %s stop source error: %v", f.Name(), err)
		}
	}
	var result error
	if forced := f.drain(ctx); forced > 0 {
		result = fmt.Errorf("%w: flow %s terminated %d events", types.ErrDrainTimeout, f.Name(), forced)
	}
	if err := f.strategy.Stop(); err != nil {
		f.config.Printf("flow %s stop %s strategy error: %v", f.Name(), f.strategy.Name(), err)
	}
	f.lc.set(Stopped)
	f.config.Notify(types.NotificationFlowStopped, f.Name(), f.Name(), nil, result)
	return result
}

// Dispose releases the flow. Processors with a Destroy method are destroyed.
func (f *Flow) Dispose() error {
	f.opMu.Lock()
	defer f.opMu.Unlock()
	if err := f.lc.transition(Disposed, Stopped, Initializing); err != nil {
		return err
	}
	for _, stage := range f.chain.Stages() {
		if d, ok := stage.(interface{ Destroy() }); ok {
			func() {
				defer func() {
					if e := recover(); e != nil {
						f.config.Printf("flow %s destroy processor panic recovered: %v", f.Name(), e)
					}
				}()
				d.Destroy()
			}()
		}
	}
	return nil
}

// Process runs the event through the flow and waits for the outcome.
func (f *Flow) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	type outcome struct {
		event *types.Event
		err   error
	}
	ch := make(chan outcome, 1)
	if err := f.Dispatch(ctx, event, func(result *types.Event, err error) {
		ch <- outcome{event: result, err: err}
	}); err != nil {
		return nil, err
	}
	select {
	case o := <-ch:
		return o.event, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dispatch admits the event and hands it to the processing strategy.
// Back-pressure is reported synchronously as a *types.BackPressureError and done
// is then never called. Otherwise done is called exactly once.
func (f *Flow) Dispatch(ctx context.Context, event *types.Event, done types.DoneFunc) error {
	if f.lc.current() != Started {
		return f.reject(event, types.MaxConcurrencyExceeded, types.ErrFlowNotStarted)
	}
	p, ok := f.admission.acquire()
	if !ok {
		return f.reject(event, types.MaxConcurrencyExceeded, nil)
	}
	// Stop may have begun between the state check and the acquire.
	if f.lc.current() != Started {
		p.Release()
		return f.reject(event, types.MaxConcurrencyExceeded, types.ErrFlowNotStarted)
	}
	if f.def.LagThreshold > 0 && f.strategy.Backlog() >= f.def.LagThreshold {
		p.Release()
		return f.reject(event, types.EventsAccumulated, nil)
	}

	event = event.WithFlow(f.Name())
	invCtx, cancel := context.WithCancel(ctx)
	for _, aspect := range f.startAspects {
		if !aspect.PointCut(f.Name(), event) {
			continue
		}
		next, err := aspect.Start(invCtx, f.Name(), event)
		if err != nil {
			cancel()
			p.Release()
			return err
		}
		if next != nil {
			invCtx = next
		}
	}

	inv := &invocation{
		key:    atomic.AddUint64(&f.invocationSeq, 1),
		event:  event,
		ctx:    invCtx,
		cancel: cancel,
		permit: p,
		done:   done,
	}
	f.inflight.Store(inv.key, inv)
	f.stats.IncrementInFlight()

	err := f.strategy.Execute(invCtx, f.chain, event, func(result *types.Event, err error) {
		f.complete(inv, result, err, false)
	})
	if err != nil {
		// The strategy refused the event, so no completion will follow.
		if atomic.CompareAndSwapInt32(&inv.finished, 0, 1) {
			f.inflight.Delete(inv.key)
			f.stats.DecrementInFlight()
			p.Release()
			cancel()
		}
		if bp, ok := types.AsBackPressure(err); ok {
			if bp.Flow == "" {
				bp.Flow = f.Name()
			}
			f.stats.IncrementRejected(bp.Reason)
			f.config.Notify(types.NotificationRejected, f.Name(), f.strategy.Name(), event, bp)
			return bp
		}
		return err
	}
	f.stats.IncrementReceived()
	return nil
}

func (f *Flow) reject(event *types.Event, reason types.BackPressureReason, cause error) error {
	err := &types.BackPressureError{Flow: f.Name(), Reason: reason, Cause: cause}
	f.stats.IncrementRejected(reason)
	f.config.Notify(types.NotificationRejected, f.Name(), f.Name(), event, err)
	return err
}

// complete finishes an invocation once. Later completions of the same invocation
// are ignored, which happens when a force-terminated chain finishes afterwards.
func (f *Flow) complete(inv *invocation, result *types.Event, err error, forced bool) {
	if !atomic.CompareAndSwapInt32(&inv.finished, 0, 1) {
		return
	}
	f.inflight.Delete(inv.key)

	if err != nil && !forced {
		failed := result
		if failed == nil {
			failed = inv.event
		}
		result, err = f.handleException(inv.ctx, failed, err)
	}

	switch {
	case err != nil:
		f.stats.IncrementFailed()
	case result != nil && result.ShortCircuited():
		f.stats.IncrementShortCircuited()
	default:
		f.stats.IncrementProcessed()
	}

	for _, aspect := range f.completedAspects {
		if aspect.PointCut(f.Name(), inv.event) {
			aspect.Completed(inv.ctx, f.Name(), inv.event, err)
		}
	}

	f.stats.DecrementInFlight()
	inv.permit.Release()
	inv.cancel()
	if inv.done != nil {
		inv.done(result, err)
	}
}

func (f *Flow) handleException(ctx context.Context, event *types.Event, cause error) (result *types.Event, err error) {
	defer func() {
		if e := recover(); e != nil {
			f.config.Printf("flow %s exception handler panic recovered: %v", f.Name(), e)
			result = event.WithException(types.NewExceptionPayload(types.KindProcessorFailed, cause))
			err = cause
		}
	}()
	return f.exceptionHandler.Handle(ctx, event, cause)
}

// drain waits until nothing is in flight and returns the number of events it had to terminate.
func (f *Flow) drain(ctx context.Context) int {
	if f.admission.inFlight() == 0 {
		return 0
	}
	deadline := time.NewTimer(f.drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for f.admission.inFlight() > 0 {
		select {
		case <-ticker.C:
		case <-deadline.C:
			return f.forceTerminate()
		case <-ctx.Done():
			return f.forceTerminate()
		}
	}
	return 0
}

func (f *Flow) forceTerminate() int {
	count := 0
	f.inflight.Range(func(key, value any) bool {
		inv := value.(*invocation)
		ex := types.NewExceptionPayload(types.KindForcedTermination, types.ErrForcedTermination)
		terminated := inv.event.WithException(ex)
		f.config.Printf("flow %s force terminating event %s", f.Name(), inv.event.Id())
		f.config.Notify(types.NotificationForcedTermination, f.Name(), f.Name(), terminated, types.ErrForcedTermination)
		f.complete(inv, terminated, types.ErrForcedTermination, true)
		count++
		return true
	})
	return count
}
