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

package aspect_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/builtin/aspect"
	"github.com/rulego/flowmesh/engine"
	"github.com/rulego/flowmesh/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func startFlow(t *testing.T, config types.Config, def engine.FlowConfig) *engine.Flow {
	flow, err := engine.NewFlow(config, def)
	require.Nil(t, err)
	require.Nil(t, flow.Initialise())
	require.Nil(t, flow.Start())
	t.Cleanup(func() { _ = flow.Stop(context.Background()) })
	return flow
}

func TestConcurrencyLimiterSpansFlows(t *testing.T) {
	limiter := aspect.NewConcurrencyLimiterAspect(1)
	config := test.Config(nil, nil, types.WithAspects(limiter))
	blocking := test.NewBlocking()
	a := startFlow(t, config, engine.FlowConfig{Name: "a", Processors: []types.Processor{blocking}})
	b := startFlow(t, config, engine.FlowConfig{Name: "b", Processors: []types.Processor{test.Echo("", 0)}})

	done := make(chan error, 1)
	go func() {
		_, err := a.Process(context.Background(), test.Text("x"))
		done <- err
	}()
	require.True(t, blocking.WaitStarted(1, time.Second))
	assert.Equal(t, int64(1), limiter.Current())

	_, err := b.Process(context.Background(), test.Text("y"))
	bp, ok := types.AsBackPressure(err)
	require.True(t, ok)
	assert.Equal(t, types.MaxConcurrencyExceeded, bp.Reason)
	assert.Equal(t, "b", bp.Flow)
	assert.Equal(t, int64(0), b.InFlight())

	blocking.Release()
	require.Nil(t, <-done)
	assert.Equal(t, int64(0), limiter.Current())
	_, err = b.Process(context.Background(), test.Text("y"))
	assert.Nil(t, err)
}

func TestDebug(t *testing.T) {
	logger := &test.Logger{}
	config := test.Config(nil, nil, types.WithAspects(&aspect.Debug{Logger: logger, Flows: []string{"debugged"}}))
	debugged := startFlow(t, config, engine.FlowConfig{Name: "debugged", Processors: []types.Processor{test.Echo("-a", 0)}})
	quiet := startFlow(t, config, engine.FlowConfig{Name: "quiet"})

	event := test.Text("x")
	_, err := debugged.Process(context.Background(), event)
	require.Nil(t, err)
	_, err = quiet.Process(context.Background(), test.Text("x"))
	require.Nil(t, err)

	lines := logger.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "flow=debugged IN id="+event.Id()+" payload=x", lines[0])
	assert.Equal(t, "flow=debugged OUT id="+event.Id()+" payload=x", lines[1])

	var mu sync.Mutex
	var directions []string
	callback := &aspect.Debug{OnDebug: func(flow, direction string, event *types.Event, err error) {
		mu.Lock()
		defer mu.Unlock()
		directions = append(directions, direction+":"+flow)
		if direction == aspect.Out {
			assert.NotNil(t, err)
		}
	}}
	failing := startFlow(t, test.Config(nil, nil, types.WithAspects(callback)), engine.FlowConfig{
		Name:       "failing",
		Processors: []types.Processor{test.Failing(errors.New("boom"))},
	})
	_, err = failing.Process(context.Background(), test.Text("x"))
	assert.NotNil(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"IN:failing", "OUT:failing"}, directions)
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()
	m, err := aspect.NewMetrics(provider)
	require.Nil(t, err)

	config := test.Config(nil, nil, types.WithAspects(m))
	ok := startFlow(t, config, engine.FlowConfig{Name: "ok", Processors: []types.Processor{test.Echo("", 0)}})
	failing := startFlow(t, config, engine.FlowConfig{Name: "failing", Processors: []types.Processor{test.Failing(errors.New("boom"))}})
	for i := 0; i < 3; i++ {
		_, err := ok.Process(context.Background(), test.Text("x"))
		require.Nil(t, err)
	}
	_, err = failing.Process(context.Background(), test.Text("x"))
	require.NotNil(t, err)

	var rm metricdata.ResourceMetrics
	require.Nil(t, reader.Collect(context.Background(), &rm))

	started := findMetric(&rm, aspect.MetricEventsStarted)
	require.NotNil(t, started)
	sum, isSum := started.Data.(metricdata.Sum[int64])
	require.True(t, isSum)
	byFlow := map[string]int64{}
	for _, dp := range sum.DataPoints {
		flow, _ := dp.Attributes.Value(attribute.Key(aspect.AttrFlow))
		byFlow[flow.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"ok": 3, "failing": 1}, byFlow)

	completed := findMetric(&rm, aspect.MetricEventsCompleted)
	require.NotNil(t, completed)
	outcomes := map[string]int64{}
	for _, dp := range completed.Data.(metricdata.Sum[int64]).DataPoints {
		outcome, _ := dp.Attributes.Value(attribute.Key(aspect.AttrOutcome))
		outcomes[outcome.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{aspect.OutcomeOK: 3, aspect.OutcomeError: 1}, outcomes)

	inFlight := findMetric(&rm, aspect.MetricEventsInFlight)
	require.NotNil(t, inFlight)
	for _, dp := range inFlight.Data.(metricdata.Sum[int64]).DataPoints {
		assert.Equal(t, int64(0), dp.Value)
	}

	latency := findMetric(&rm, aspect.MetricEventLatency)
	require.NotNil(t, latency)
	var count uint64
	for _, dp := range latency.Data.(metricdata.Histogram[float64]).DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(4), count)
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	var childOf trace.SpanContext
	probe := types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		childOf = trace.SpanContextFromContext(ctx)
		return event, nil
	})
	config := test.Config(nil, nil, types.WithAspects(aspect.NewTracing(provider)))
	traced := startFlow(t, config, engine.FlowConfig{Name: "traced", Processors: []types.Processor{probe}})
	failing := startFlow(t, config, engine.FlowConfig{Name: "failing", Processors: []types.Processor{test.Failing(errors.New("boom"))}})

	event := test.Text("x")
	_, err := traced.Process(context.Background(), event)
	require.Nil(t, err)
	_, err = failing.Process(context.Background(), test.Text("x"))
	require.NotNil(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, aspect.SpanName, spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, spans[0].SpanContext().SpanID(), childOf.SpanID())
	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, "traced", attrs["flow.name"])
	assert.Equal(t, event.Id(), attrs["event.id"])

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}
