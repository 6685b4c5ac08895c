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

	"github.com/rulego/flowmesh/api/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	_ types.StartAspect     = (*Tracing)(nil)
	_ types.CompletedAspect = (*Tracing)(nil)
)

// SpanName is the name of the span of one event.
const SpanName = "flowmesh.flow"

// Tracing starts one span per admitted event. Processors see the span in their
// context, so spans they start become its children.
//
// Tracing 为每个事件创建一个 span。
type Tracing struct {
	Flows  []string
	tracer trace.Tracer
}

// NewTracing creates the aspect on provider. A nil provider uses the global one.
func NewTracing(provider trace.TracerProvider, flows ...string) *Tracing {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracing{Flows: flows, tracer: provider.Tracer("github.com/rulego/flowmesh")}
}

func (a *Tracing) Order() int {
	return 30
}

func (a *Tracing) PointCut(flow string, event *types.Event) bool {
	return flowSet(a.Flows).match(flow)
}

func (a *Tracing) Start(ctx context.Context, flow string, event *types.Event) (context.Context, error) {
	attrs := []attribute.KeyValue{
		attribute.String("flow.name", flow),
		attribute.String("event.id", event.Id()),
	}
	if id := event.CorrelationId(); id != "" {
		attrs = append(attrs, attribute.String("event.correlation_id", id))
	}
	ctx, _ = a.tracer.Start(ctx, SpanName, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, nil
}

func (a *Tracing) Completed(ctx context.Context, flow string, event *types.Event, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
