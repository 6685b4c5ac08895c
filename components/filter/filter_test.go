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

package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newFilter(t *testing.T, prototype types.Component, config types.Config, configuration types.Configuration) types.Processor {
	c := prototype.New()
	require.Nil(t, c.Init(config, configuration))
	t.Cleanup(c.Destroy)
	return c.(types.Processor)
}

func jsonEvent(data string) *types.Event {
	return types.NewPayloadEvent(data, types.MediaTypeJSON)
}

func TestExprFilter(t *testing.T) {
	f := newFilter(t, &ExprFilter{}, test.Config(nil, nil), types.Configuration{
		"expr": "payload.temperature > 50",
	})
	ctx := context.Background()

	result, err := f.Process(ctx, jsonEvent(`{"temperature":60}`))
	require.Nil(t, err)
	assert.Nil(t, result.Exception())

	result, err = f.Process(ctx, jsonEvent(`{"temperature":40}`))
	require.Nil(t, err)
	require.NotNil(t, result.Exception())
	assert.Equal(t, types.KindFilterUnaccepted, result.Exception().Kind)
	assert.True(t, result.ShortCircuited())

	assert.NotNil(t, (&ExprFilter{}).New().Init(test.Config(nil, nil), types.Configuration{"expr": "payload >"}))
	assert.NotNil(t, (&ExprFilter{}).New().Init(test.Config(nil, nil), nil))
}

func TestJsFilter(t *testing.T) {
	f := newFilter(t, &JsFilter{}, test.Config(nil, nil), types.Configuration{
		"jsScript": "return payload.temperature > 50 && inbound.site === 'a';",
	})
	ctx := context.Background()

	result, err := f.Process(ctx, jsonEvent(`{"temperature":60}`).WithProperty(types.InboundScope, "site", "a"))
	require.Nil(t, err)
	assert.Nil(t, result.Exception())

	result, err = f.Process(ctx, jsonEvent(`{"temperature":60}`).WithProperty(types.InboundScope, "site", "b"))
	require.Nil(t, err)
	assert.True(t, result.ShortCircuited())

	broken := newFilter(t, &JsFilter{}, test.Config(nil, nil), types.Configuration{"jsScript": "throw new Error('boom');"})
	_, err = broken.Process(ctx, test.Text("x"))
	assert.NotNil(t, err)

	assert.NotNil(t, (&JsFilter{}).New().Init(test.Config(nil, nil), types.Configuration{"jsScript": "return ("}))
}

func TestPropertyFilter(t *testing.T) {
	all := newFilter(t, &PropertyFilter{}, test.Config(nil, nil), types.Configuration{
		"keys": "deviceId, site",
	})
	event := test.Text("x").WithProperty(types.InboundScope, "deviceId", "d1")
	result, _ := all.Process(context.Background(), event)
	assert.True(t, result.ShortCircuited())
	result, _ = all.Process(context.Background(), event.WithProperty(types.InboundScope, "site", "a"))
	assert.False(t, result.ShortCircuited())

	anyKey := newFilter(t, &PropertyFilter{}, test.Config(nil, nil), types.Configuration{
		"keys":         "deviceId,site",
		"checkAllKeys": false,
		"pattern":      "^d[0-9]+$",
	})
	result, _ = anyKey.Process(context.Background(), event)
	assert.False(t, result.ShortCircuited())
	result, _ = anyKey.Process(context.Background(), test.Text("x").WithProperty(types.InboundScope, "deviceId", "x1"))
	assert.True(t, result.ShortCircuited())

	invocation := newFilter(t, &PropertyFilter{}, test.Config(nil, nil), types.Configuration{
		"scope": "invocation",
		"keys":  "deviceId",
	})
	result, _ = invocation.Process(context.Background(), event)
	assert.True(t, result.ShortCircuited())

	nested := newFilter(t, &PropertyFilter{}, test.Config(nil, nil), types.Configuration{
		"keys":    "location.city",
		"pattern": "^Paris$",
	})
	located := test.Text("x").WithProperty(types.InboundScope, "location", map[string]interface{}{"city": "Paris"})
	result, _ = nested.Process(context.Background(), located)
	assert.False(t, result.ShortCircuited())
	result, _ = nested.Process(context.Background(), test.Text("x").WithProperty(types.InboundScope, "location", map[string]interface{}{"city": "Rome"}))
	assert.True(t, result.ShortCircuited())
	result, _ = nested.Process(context.Background(), test.Text("x").WithProperty(types.InboundScope, "location", "Paris"))
	assert.True(t, result.ShortCircuited())

	assert.NotNil(t, (&PropertyFilter{}).New().Init(test.Config(nil, nil), nil))
	assert.NotNil(t, (&PropertyFilter{}).New().Init(test.Config(nil, nil), types.Configuration{"keys": "a", "scope": "header"}))
}

func TestSecurityFilter(t *testing.T) {
	notifications := &test.Notifications{}
	config := test.Config(nil, notifications, types.WithProperties(map[string]string{"apiToken": "s3cret"}))
	f := newFilter(t, &SecurityFilter{}, config, types.Configuration{"expr": "inbound.token == global.apiToken"})
	ctx := context.Background()

	result, err := f.Process(ctx, test.Text("x").WithProperty(types.InboundScope, "token", "s3cret"))
	require.Nil(t, err)
	assert.Nil(t, result.Exception())

	result, err = f.Process(ctx, test.Text("x").WithProperty(types.InboundScope, "token", "guess"))
	require.Nil(t, err)
	require.NotNil(t, result.Exception())
	assert.Equal(t, types.KindUnauthorised, result.Exception().Kind)
	assert.ErrorIs(t, result.Exception(), types.ErrUnauthorised)
	assert.Len(t, notifications.Of(types.NotificationSecurityFailure), 1)
}

func TestSecurityFilterProvider(t *testing.T) {
	notifications := &test.Notifications{}
	config := test.Config(nil, notifications)
	f := NewSecurityFilter(config, test.Authenticator{Token: "t"})
	require.Nil(t, f.Init(config, nil))

	result, err := f.Process(context.Background(), test.Text("x").WithProperty(types.InboundScope, "token", "t"))
	require.Nil(t, err)
	assert.Nil(t, result.Exception())

	failing := NewSecurityFilter(config, types.SecurityProviderFunc(func(ctx context.Context, event *types.Event) error {
		return errors.New("directory unavailable")
	}))
	result, err = failing.Process(context.Background(), test.Text("x"))
	require.Nil(t, err)
	assert.ErrorIs(t, result.Exception(), types.ErrUnauthorised)
	assert.Len(t, notifications.Of(types.NotificationSecurityFailure), 1)
}

func TestSecurityFilterCredentials(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pa55"), bcrypt.MinCost)
	require.Nil(t, err)
	notifications := &test.Notifications{}
	f := newFilter(t, &SecurityFilter{}, test.Config(nil, notifications), types.Configuration{
		"users":   map[string]interface{}{"alice": string(hash)},
		"userKey": "user",
	})
	ctx := context.Background()

	result, err := f.Process(ctx, test.Text("x").
		WithProperty(types.InboundScope, "user", "alice").
		WithProperty(types.InboundScope, "password", "pa55"))
	require.Nil(t, err)
	assert.Nil(t, result.Exception())

	for _, event := range []*types.Event{
		test.Text("x").WithProperty(types.InboundScope, "user", "alice").WithProperty(types.InboundScope, "password", "nope"),
		test.Text("x").WithProperty(types.InboundScope, "user", "bob").WithProperty(types.InboundScope, "password", "pa55"),
		test.Text("x"),
	} {
		result, err = f.Process(ctx, event)
		require.Nil(t, err)
		require.NotNil(t, result.Exception())
		assert.Equal(t, types.KindUnauthorised, result.Exception().Kind)
	}
	assert.Len(t, notifications.Of(types.NotificationSecurityFailure), 3)
}
