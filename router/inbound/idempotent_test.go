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

package inbound_test

import (
	"context"
	"testing"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/engine"
	"github.com/rulego/flowmesh/router"
	"github.com/rulego/flowmesh/router/inbound"
	"github.com/rulego/flowmesh/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMessageId(event *types.Event, id string) *types.Event {
	return event.WithProperty(types.InboundScope, types.PropertyMessageId, id)
}

func TestIdempotentReceiverDedup(t *testing.T) {
	notifications := &test.Notifications{}
	config := test.Config(nil, notifications)
	receiver := (&inbound.IdempotentReceiver{}).New()
	require.Nil(t, receiver.Init(config, nil))
	downstream := &test.Recorder{}
	chain := engine.NewChain(router.NewCollection(config, "in", nil, receiver.(types.Router)), downstream)

	ctx := context.Background()
	first, err := chain.Process(ctx, withMessageId(test.Text("a"), "m-1"))
	require.Nil(t, err)
	assert.Nil(t, first.Exception())

	second, err := chain.Process(ctx, withMessageId(test.Text("a again"), "m-1"))
	require.Nil(t, err)
	require.NotNil(t, second.Exception())
	assert.Equal(t, types.KindDuplicate, second.Exception().Kind)
	assert.True(t, second.ShortCircuited())

	assert.Equal(t, 1, downstream.Count())
	assert.Len(t, notifications.Of(types.NotificationDuplicate), 1)

	_, err = chain.Process(ctx, withMessageId(test.Text("b"), "m-2"))
	require.Nil(t, err)
	assert.Equal(t, 2, downstream.Count())
}

func TestIdempotentReceiverKeysAreScopedByFlow(t *testing.T) {
	config := test.Config(nil, nil)
	receiver := (&inbound.IdempotentReceiver{}).New()
	require.Nil(t, receiver.Init(config, nil))
	r := receiver.(types.Router)

	event := withMessageId(test.Text("a"), "m-1")
	one, err := r.Route(context.Background(), event.WithFlow("one"))
	require.Nil(t, err)
	two, err := r.Route(context.Background(), event.WithFlow("two"))
	require.Nil(t, err)
	assert.Nil(t, one.Exception())
	assert.Nil(t, two.Exception())
}

func TestIdempotentReceiverIdProperty(t *testing.T) {
	config := test.Config(nil, nil)
	receiver := (&inbound.IdempotentReceiver{}).New()
	require.Nil(t, receiver.Init(config, types.Configuration{"idProperty": "invocation.orderId", "ttl": "1m"}))
	r := receiver.(types.Router)

	first, _ := r.Route(context.Background(), test.Text("a").WithProperty(types.InvocationScope, "orderId", 7))
	second, _ := r.Route(context.Background(), test.Text("b").WithProperty(types.InvocationScope, "orderId", 7))
	assert.Nil(t, first.Exception())
	assert.True(t, second.ShortCircuited())

	// without the property the event id is the key
	e := test.Text("c")
	third, _ := r.Route(context.Background(), e)
	fourth, _ := r.Route(context.Background(), e.WithPayload("d"))
	assert.Nil(t, third.Exception())
	assert.True(t, fourth.ShortCircuited())

	assert.NotNil(t, (&inbound.IdempotentReceiver{}).New().Init(config, types.Configuration{"idProperty": "orderId"}))
	assert.NotNil(t, (&inbound.IdempotentReceiver{}).New().Init(config, types.Configuration{"idProperty": "header.orderId"}))
}

func TestIdempotentSecureHashReceiver(t *testing.T) {
	config := test.Config(nil, nil)
	digests := map[string]string{}
	for _, algorithm := range []string{inbound.SHA256, inbound.SHA3256, inbound.BLAKE2b256} {
		c := (&inbound.IdempotentSecureHashReceiver{}).New()
		require.Nil(t, c.Init(config, types.Configuration{"algorithm": algorithm}))
		receiver := c.(*inbound.IdempotentSecureHashReceiver)

		digest, err := receiver.Digest(test.Text("payload"))
		require.Nil(t, err)
		assert.Len(t, digest, 64, algorithm)
		digests[algorithm] = digest

		first, err := receiver.Route(context.Background(), test.Text("same"))
		require.Nil(t, err)
		second, err := receiver.Route(context.Background(), test.Text("same"))
		require.Nil(t, err)
		other, err := receiver.Route(context.Background(), test.Text("other"))
		require.Nil(t, err)
		assert.Nil(t, first.Exception(), algorithm)
		assert.True(t, second.ShortCircuited(), algorithm)
		assert.Nil(t, other.Exception(), algorithm)
	}
	assert.Equal(t, "239f59ed55e737c77147cf55ad0c1b030b6d7ee748a7426952f9b852d5a935e5", digests[inbound.SHA256])
	assert.NotEqual(t, digests[inbound.SHA256], digests[inbound.SHA3256])
	assert.NotEqual(t, digests[inbound.SHA3256], digests[inbound.BLAKE2b256])

	assert.NotNil(t, (&inbound.IdempotentSecureHashReceiver{}).New().Init(config, types.Configuration{"algorithm": "MD5"}))
}
