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

package aspect

import (
	"context"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	_ types.StartAspect     = (*Metrics)(nil)
	_ types.CompletedAspect = (*Metrics)(nil)
)

// Instrument names.
const (
	MetricEventsStarted   = "flowmesh.events.started"
	MetricEventsCompleted = "flowmesh.events.completed"
	MetricEventsInFlight  = "flowmesh.events.inflight"
	MetricEventLatency    = "flowmesh.event.latency_ms"
)

// Attribute keys.
const (
	AttrFlow    = "flow"
	AttrOutcome = "outcome"
)

// Outcomes of a completed event.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type startKey struct{}

// Metrics records OpenTelemetry metrics for every event of a flow.
//
// Metrics 使用 OpenTelemetry 记录流指标。
type Metrics struct {
	Flows     []string
	started   metric.Int64Counter
	completed metric.Int64Counter
	inFlight  metric.Int64UpDownCounter
	latency   metric.Float64Histogram
}

// NewMetrics creates the instruments on provider. A nil provider uses the global one.
func NewMetrics(provider metric.MeterProvider, flows ...string) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/rulego/flowmesh")
	m := &Metrics{Flows: flows}
	var err error
	if m.started, err = meter.Int64Counter(MetricEventsStarted,
		metric.WithDescription("Number of events admitted by a flow")); err != nil {
		return nil, err
	}
	if m.completed, err = meter.Int64Counter(MetricEventsCompleted,
		metric.WithDescription("Number of events completed by a flow")); err != nil {
		return nil, err
	}
	if m.inFlight, err = meter.Int64UpDownCounter(MetricEventsInFlight,
		metric.WithDescription("Number of events in flight")); err != nil {
		return nil, err
	}
	if m.latency, err = meter.Float64Histogram(MetricEventLatency,
		metric.WithDescription("Event processing latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

func (a *Metrics) Order() int {
	return 20
}

func (a *Metrics) PointCut(flow string, event *types.Event) bool {
	return flowSet(a.Flows).match(flow)
}

func (a *Metrics) Start(ctx context.Context, flow string, event *types.Event) (context.Context, error) {
	attrs := metric.WithAttributes(attribute.String(AttrFlow, flow))
	a.started.Add(ctx, 1, attrs)
	a.inFlight.Add(ctx, 1, attrs)
	return context.WithValue(ctx, startKey{}, time.Now()), nil
}

func (a *Metrics) Completed(ctx context.Context, flow string, event *types.Event, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	a.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String(AttrFlow, flow)))
	attrs := metric.WithAttributes(attribute.String(AttrFlow, flow), attribute.String(AttrOutcome, outcome))
	a.completed.Add(ctx, 1, attrs)
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		a.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	}
}
