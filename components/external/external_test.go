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

package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/mqtt"
	"github.com/rulego/flowmesh/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic string
	qos   byte
	data  string
}

type fakePublisher struct {
	mu     sync.Mutex
	sent   []published
	closed bool
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, qos byte, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, qos: qos, data: string(data)})
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestRegistry(t *testing.T) {
	var names []string
	for _, c := range Registry.Components() {
		names = append(names, c.Type())
	}
	assert.ElementsMatch(t, []string{"mqttPublish", "restCall"}, names)
}

func TestMqttPublish(t *testing.T) {
	fake := &fakePublisher{}
	dials := 0
	x := (&MqttPublish{}).New().(*MqttPublish)
	x.Dial = func(ctx context.Context, conf mqtt.Config, logger types.Logger) (Publisher, error) {
		dials++
		if dials == 1 {
			return nil, errors.New("broker down")
		}
		assert.Equal(t, "tcp://broker:1883", conf.Server)
		return fake, nil
	}
	require.Nil(t, x.Init(test.Config(nil, nil), types.Configuration{
		"server": "tcp://broker:1883",
		"topic":  "/device/${inbound.deviceId}/msg",
		"qos":    1,
	}))
	event := types.NewPayloadEvent(map[string]any{"t": 1}, types.MediaTypeJSON).WithProperty(types.InboundScope, "deviceId", "d1")

	_, err := x.Process(context.Background(), event)
	assert.ErrorIs(t, err, ErrClientNotInit)

	result, err := x.Process(context.Background(), event)
	require.Nil(t, err)
	assert.Same(t, event, result)
	_, err = x.Process(context.Background(), test.Text("plain").WithProperty(types.InboundScope, "deviceId", "d2"))
	require.Nil(t, err)
	assert.Equal(t, 2, dials)
	assert.Equal(t, []published{
		{topic: "/device/d1/msg", qos: 1, data: `{"t":1}`},
		{topic: "/device/d2/msg", qos: 1, data: "plain"},
	}, fake.sent)

	x.Destroy()
	assert.True(t, fake.closed)
	_, err = x.Process(context.Background(), event)
	assert.NotNil(t, err)
}

func TestMqttPublishConfig(t *testing.T) {
	assert.NotNil(t, (&MqttPublish{}).New().Init(test.Config(nil, nil), types.Configuration{"server": ""}))
	assert.NotNil(t, (&MqttPublish{}).New().Init(test.Config(nil, nil), types.Configuration{"topic": ""}))
	assert.NotNil(t, (&MqttPublish{}).New().Init(test.Config(nil, nil), types.Configuration{"topic": "${a b}"}))
}

func newRestCall(t *testing.T, configuration types.Configuration) *RestCall {
	c := (&RestCall{}).New()
	require.Nil(t, c.Init(test.Config(nil, nil), configuration))
	t.Cleanup(c.Destroy)
	return c.(*RestCall)
}

func TestRestCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad"))
			return
		}
		w.Header().Set(ContentType, "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"method":"` + r.Method + `","path":"` + r.URL.Path + `","device":"` +
			r.Header.Get("X-Device") + `","body":` + string(body) + `}`))
	}))
	defer server.Close()

	x := newRestCall(t, types.Configuration{
		"url":     server.URL + "/devices/${inbound.deviceId}",
		"headers": map[string]string{"X-Device": "${inbound.deviceId}"},
	})
	event := types.NewPayloadEvent(`{"v":1}`, types.MediaTypeJSON).WithProperty(types.InboundScope, "deviceId", "d1")
	result, err := x.Process(context.Background(), event)
	require.Nil(t, err)
	assert.JSONEq(t, `{"method":"POST","path":"/devices/d1","device":"d1","body":{"v":1}}`, result.Payload().(string))
	assert.Equal(t, types.MediaTypeJSON, result.Message().Payload().MediaType)
	code, _ := result.Message().Property(types.InboundScope, StatusCodeKey)
	assert.Equal(t, http.StatusOK, code)

	failing := newRestCall(t, types.Configuration{"url": server.URL + "/fail", "method": "put"})
	result, err = failing.Process(context.Background(), event)
	assert.NotNil(t, err)
	errorBody, _ := result.Message().Property(types.InboundScope, ErrorBodyKey)
	assert.Equal(t, "bad", errorBody)
	assert.Equal(t, `{"v":1}`, result.Payload())
}

func TestRestCallConfig(t *testing.T) {
	assert.NotNil(t, (&RestCall{}).New().Init(test.Config(nil, nil), nil))

	x := newRestCall(t, types.Configuration{"url": "http://127.0.0.1", "proxyUrl": "socks5://u:p@127.0.0.1:1080"})
	assert.Nil(t, x.httpClient.Transport.(*http.Transport).Proxy)
	assert.NotNil(t, x.httpClient.Transport.(*http.Transport).DialContext)

	httpProxy := newRestCall(t, types.Configuration{"url": "http://127.0.0.1", "proxyUrl": "http://127.0.0.1:3128"})
	proxyFunc := httpProxy.httpClient.Transport.(*http.Transport).Proxy
	require.NotNil(t, proxyFunc)
	u, err := proxyFunc(&http.Request{URL: &url.URL{Scheme: "http", Host: "example.com"}})
	require.Nil(t, err)
	assert.Equal(t, "127.0.0.1:3128", u.Host)
}
