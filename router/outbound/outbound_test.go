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
	"testing"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/router"
	"github.com/rulego/flowmesh/router/inbound"
	"github.com/rulego/flowmesh/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, prototype types.Component, config types.Config, configuration types.Configuration) types.Router {
	c := prototype.New()
	require.Nil(t, c.Init(config, configuration))
	t.Cleanup(c.Destroy)
	return c.(types.Router)
}

func TestRegistry(t *testing.T) {
	var names []string
	for _, c := range Registry.Components() {
		names = append(names, c.Type())
		_, ok := c.New().(types.Router)
		assert.True(t, ok, c.Type())
	}
	assert.ElementsMatch(t, []string{
		"passThrough", "filtering", "chaining", "endpointSelector", "exceptionBased",
		"listSplitter", "filteringListSplitter", "messageChunking",
		"multicasting", "staticRecipientList", "templateEndpoint",
	}, names)
}

func TestMulticastAggregatesInTargetOrder(t *testing.T) {
	config := test.Config(test.Resolver{
		"A": test.Echo("-A", 40*time.Millisecond),
		"B": test.Echo("-B", 0),
		"C": test.Echo("-C", 15*time.Millisecond),
	}, nil)
	r := newRouter(t, &MulticastingRouter{}, config, types.Configuration{
		"targets":   []string{"A", "B", "C"},
		"parallel":  true,
		"aggregate": true,
	})
	result, err := r.Route(context.Background(), test.Text("x"))
	require.Nil(t, err)
	assert.Equal(t, []interface{}{"x-A", "x-B", "x-C"}, result.Payload())
}

func TestMulticastTargetTimeoutIsTargetFailure(t *testing.T) {
	config := test.Config(test.Resolver{
		"A": test.Echo("-A", 0),
		"B": test.Echo("-B", 500*time.Millisecond),
		"C": test.Echo("-C", 0),
	}, nil)
	r := newRouter(t, &MulticastingRouter{}, config, types.Configuration{
		"targets":   "A,B,C",
		"parallel":  true,
		"aggregate": true,
		"timeouts":  map[string]interface{}{"B": "20ms"},
	})
	start := time.Now()
	result, err := r.Route(context.Background(), test.Text("x"))
	require.Nil(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, []interface{}{"x-A", "x-C"}, result.Payload())
	failed, _ := result.Message().Property(types.OutboundScope, types.PropertyFailedTargets)
	assert.Equal(t, []string{"B"}, failed)
}

func TestMulticastOneWayIsFireAndForget(t *testing.T) {
	a, b := &test.Recorder{}, &test.Recorder{}
	config := test.Config(test.Resolver{"A": a, "B": b}, nil)
	r := newRouter(t, &MulticastingRouter{}, config, types.Configuration{"targets": []string{"A", "B"}})

	event := test.Text("x", types.WithExchangePattern(types.OneWay))
	result, err := r.Route(context.Background(), event)
	require.Nil(t, err)
	assert.Same(t, event, result)
	require.Eventually(t, func() bool { return a.Count() == 1 && b.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestChunkRoundTrip(t *testing.T) {
	config := test.Config(nil, nil)
	agg := (&inbound.ChunkingAggregator{}).New()
	require.Nil(t, agg.Init(config, nil))
	defer agg.Destroy()
	reassemble := router.NewCollection(config, "reassemble", nil, agg.(types.Router))
	config.Resolver = test.Resolver{"reassemble": reassemble}

	r := newRouter(t, &MessageChunkingRouter{}, config, types.Configuration{
		"targets":   []string{"reassemble"},
		"chunkSize": 3,
	})
	payload := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	chunks, err := Chunk(payload, 3, ChunkBytes)
	require.Nil(t, err)
	assert.Len(t, chunks, 4)

	result, err := r.Route(context.Background(), types.NewPayloadEvent(payload, ""))
	require.Nil(t, err)
	require.NotNil(t, result)
	assert.Equal(t, payload, result.Payload())
	assert.Equal(t, 0, agg.(*inbound.ChunkingAggregator).OpenGroups())
}

func TestChunkText(t *testing.T) {
	chunks, err := Chunk("abcdefg", 3, ChunkBytes)
	require.Nil(t, err)
	assert.Equal(t, []interface{}{"abc", "def", "g"}, chunks)

	chunks, err = Chunk([]byte("abcd"), 3, ChunkBytes)
	require.Nil(t, err)
	assert.Equal(t, []interface{}{[]byte("abc"), []byte("d")}, chunks)

	chunks, err = Chunk("l1\nl2\nl3\n", 2, ChunkLines)
	require.Nil(t, err)
	assert.Equal(t, []interface{}{"l1\nl2\n", "l3\n"}, chunks)

	_, err = Chunk(42, 3, ChunkBytes)
	assert.NotNil(t, err)
}

func TestListSplitter(t *testing.T) {
	recorder := &test.Recorder{}
	config := test.Config(test.Resolver{"each": recorder}, nil)
	r := newRouter(t, &ListSplitter{}, config, types.Configuration{"targets": []string{"each"}, "aggregate": true})

	parent := types.NewPayloadEvent(`["a","b","c"]`, types.MediaTypeJSON)
	result, err := r.Route(context.Background(), parent)
	require.Nil(t, err)
	assert.Equal(t, []interface{}{"a", "b", "c"}, result.Payload())

	children := recorder.Events()
	require.Len(t, children, 3)
	for i, child := range children {
		assert.Equal(t, parent.Id(), child.CorrelationId())
		assert.Equal(t, 3, child.Correlation().GroupSize)
		assert.Equal(t, i+1, child.Correlation().Sequence)
		assert.Equal(t, parent.Id(), child.RootId())
	}

	_, err = r.Route(context.Background(), test.Text("not a list"))
	assert.ErrorIs(t, err, types.ErrPayloadNotList)
}

func TestFilteringListSplitterSizesGroupAfterFilter(t *testing.T) {
	recorder := &test.Recorder{}
	config := test.Config(test.Resolver{"each": recorder}, nil)
	r := newRouter(t, &FilteringListSplitter{}, config, types.Configuration{
		"targets":       []string{"each"},
		"elementFilter": "item % 2 == 0",
	})
	_, err := r.Route(context.Background(), types.NewPayloadEvent([]int{1, 2, 3, 4}, ""))
	require.Nil(t, err)
	children := recorder.Events()
	require.Len(t, children, 2)
	assert.Equal(t, []interface{}{2, 4}, test.Payloads(children))
	for i, child := range children {
		assert.Equal(t, 2, child.Correlation().GroupSize)
		assert.Equal(t, i+1, child.Correlation().Sequence)
	}
}

func TestChainingRouter(t *testing.T) {
	third := &test.Recorder{}
	config := test.Config(test.Resolver{
		"one":   test.Echo("-1", 0),
		"two":   test.Echo("-2", 0),
		"fail":  test.Failing(errors.New("step failed")),
		"third": third,
	}, nil)

	r := newRouter(t, &ChainingRouter{}, config, types.Configuration{"targets": []string{"one", "two"}})
	result, err := r.Route(context.Background(), test.Text("x"))
	require.Nil(t, err)
	assert.Equal(t, "x-1-2", result.Payload())

	aborting := newRouter(t, &ChainingRouter{}, config, types.Configuration{"targets": []string{"one", "fail", "third"}})
	_, err = aborting.Route(context.Background(), test.Text("x"))
	assert.NotNil(t, err)
	assert.Equal(t, 0, third.Count())

	continuing := newRouter(t, &ChainingRouter{}, config, types.Configuration{
		"targets":         []string{"one", "fail", "third"},
		"continueOnError": true,
	})
	result, err = continuing.Route(context.Background(), test.Text("x"))
	require.Nil(t, err)
	assert.Equal(t, "x-1", result.Payload())
	assert.Equal(t, []interface{}{"x-1"}, third.Payloads())
}

func TestEndpointSelector(t *testing.T) {
	eu, us := &test.Recorder{}, &test.Recorder{}
	config := test.Config(test.Resolver{"eu": eu, "us": us}, nil)
	r := newRouter(t, &EndpointSelector{}, config, types.Configuration{
		"targets":  []string{"eu", "us"},
		"selector": `inbound.region == "eu" ? "eu" : "us"`,
	})
	_, err := r.Route(context.Background(), test.Text("a").WithProperty(types.InboundScope, "region", "eu"))
	require.Nil(t, err)
	_, err = r.Route(context.Background(), test.Text("b"))
	require.Nil(t, err)
	assert.Equal(t, []interface{}{"a"}, eu.Payloads())
	assert.Equal(t, []interface{}{"b"}, us.Payloads())

	byIndex := newRouter(t, &EndpointSelector{}, config, types.Configuration{
		"targets":  []string{"eu", "us"},
		"selector": "1",
	})
	address, err := byIndex.(*EndpointSelector).Select(test.Text("c"))
	require.Nil(t, err)
	assert.Equal(t, "us", address)

	unknown := newRouter(t, &EndpointSelector{}, config, types.Configuration{
		"targets":  []string{"eu"},
		"selector": `"asia"`,
	})
	_, err = unknown.Route(context.Background(), test.Text("d"))
	assert.ErrorIs(t, err, types.ErrEndpointNotFound)
}

func TestExceptionBasedRouter(t *testing.T) {
	config := test.Config(test.Resolver{
		"first":  test.Failing(errors.New("first down")),
		"second": test.Echo("-second", 0),
		"last":   test.Failing(errors.New("last down")),
	}, nil)
	r := newRouter(t, &ExceptionBasedRouter{}, config, types.Configuration{"targets": []string{"first", "second", "last"}})
	result, err := r.Route(context.Background(), test.Text("x"))
	require.Nil(t, err)
	assert.Equal(t, "x-second", result.Payload())

	allFail := newRouter(t, &ExceptionBasedRouter{}, config, types.Configuration{"targets": []string{"first", "last"}})
	_, err = allFail.Route(context.Background(), test.Text("x"))
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "last down")
	assert.NotContains(t, err.Error(), "first down")
}

func TestStaticRecipientList(t *testing.T) {
	config := test.Config(test.Resolver{
		"a": test.Echo("-a", 0),
		"b": test.Echo("-b", 0),
	}, nil)
	r := newRouter(t, &StaticRecipientList{}, config, types.Configuration{
		"recipients": "inbound.to",
		"aggregate":  true,
	})
	event := test.Text("x").WithProperty(types.InboundScope, "to", []string{"b", "a"})
	result, err := r.Route(context.Background(), event)
	require.Nil(t, err)
	assert.Equal(t, []interface{}{"x-b", "x-a"}, result.Payload())

	_, err = r.Route(context.Background(), test.Text("x").WithProperty(types.InboundScope, "to", "a,missing"))
	assert.ErrorIs(t, err, types.ErrEndpointNotFound)
}

func TestTemplateEndpoint(t *testing.T) {
	eu := &test.Recorder{}
	config := test.Config(test.Resolver{"orders-eu": eu}, nil)
	r := newRouter(t, &TemplateEndpointRouter{}, config, types.Configuration{"address": "orders-${inbound.region}"})
	_, err := r.Route(context.Background(), test.Text("x").WithProperty(types.InboundScope, "region", "eu"))
	require.Nil(t, err)
	assert.Equal(t, 1, eu.Count())

	assert.NotNil(t, (&TemplateEndpointRouter{}).New().Init(config, nil))
}

func TestFilterAndCollection(t *testing.T) {
	matched := &test.Recorder{}
	notifications := &test.Notifications{}
	config := test.Config(test.Resolver{"matched": matched}, notifications)
	filtering := newRouter(t, &FilteringRouter{}, config, types.Configuration{
		"filter":  `payload == "x"`,
		"targets": []string{"matched"},
	})
	collection := router.NewCollection(config, "out", nil, filtering)

	result, err := collection.Process(context.Background(), test.Text("x"))
	require.Nil(t, err)
	assert.Equal(t, "x", result.Payload())

	result, err = collection.Process(context.Background(), test.Text("y"))
	require.Nil(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, matched.Count())
	assert.Len(t, notifications.Of(types.NotificationRouteNotFound), 1)

	assert.NotNil(t, (&FilteringRouter{}).New().Init(config, types.Configuration{"targets": []string{"matched"}}))
}

func TestPassThroughRouter(t *testing.T) {
	config := test.Config(test.Resolver{"next": test.Echo("-next", 0)}, nil)
	bare := newRouter(t, &PassThroughRouter{}, config, nil)
	event := test.Text("x")
	result, err := bare.Route(context.Background(), event)
	require.Nil(t, err)
	assert.Same(t, event, result)

	single := newRouter(t, &PassThroughRouter{}, config, types.Configuration{"targets": []string{"next"}})
	result, err = single.Route(context.Background(), event)
	require.Nil(t, err)
	assert.Equal(t, "x-next", result.Payload())

	assert.NotNil(t, (&PassThroughRouter{}).New().Init(config, types.Configuration{"targets": []string{"a", "b"}}))
}
