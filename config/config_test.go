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

package config

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rulego/flowmesh/api/types"
	mqttsource "github.com/rulego/flowmesh/endpoint/mqtt"
	"github.com/rulego/flowmesh/endpoint/rest"
	"github.com/rulego/flowmesh/endpoint/schedule"
	"github.com/rulego/flowmesh/engine"
	"github.com/rulego/flowmesh/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settingsYaml = `
properties:
  prefix: "got:"
scriptMaxExecutionTime: 500ms
workers: 4
idempotent:
  driverName: sqlite
  dsn: ":memory:"
aspects:
  debug: true
  maxConcurrency: 10
flows:
  - name: http
    maxConcurrency: 2
    drainTimeout: 2s
    filter:
      type: exprFilter
      configuration:
        expr: payload != 'drop'
    stages:
      - inbound:
          routers:
            - type: idempotentReceiver
              configuration:
                idProperty: inbound.messageId
      - processor:
          type: exprTransform
          configuration:
            expr: global.prefix + upper(payload)
    source:
      type: rest
      rest:
        server: 127.0.0.1:0
        path: /in
  - name: ticks
    strategy: queued
    strategyOptions:
      workers: 2
      queueSize: 8
    stages:
      - processor:
          type: log
    source:
      type: schedule
      schedule:
        cron: "0 0 0 1 1 *"
        payload: tick
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(settingsYaml))
	require.Nil(t, err)
	assert.Equal(t, 500*time.Millisecond, s.ScriptMaxExecutionTime)
	assert.Equal(t, 4, s.Workers)
	require.NotNil(t, s.Idempotent)
	assert.Equal(t, "sqlite", s.Idempotent.DriverName)
	assert.True(t, s.Aspects.Debug)
	require.Len(t, s.Flows, 2)

	web := s.Flows[0]
	assert.Equal(t, "http", web.Name)
	assert.Equal(t, 2, web.MaxConcurrency)
	assert.Equal(t, 2*time.Second, web.DrainTimeout)
	assert.Equal(t, "exprFilter", web.Filter.Type)
	require.Len(t, web.Stages, 2)
	assert.Equal(t, "idempotentReceiver", web.Stages[0].Inbound.Routers[0].Type)
	assert.Equal(t, "inbound.messageId", web.Stages[0].Inbound.Routers[0].Configuration["idProperty"])
	assert.Equal(t, "/in", web.Source.Rest.Path)

	ticks := s.Flows[1]
	assert.Equal(t, engine.StrategyQueued, ticks.Strategy)
	assert.Equal(t, 2, ticks.StrategyOpts.Workers)
	assert.Equal(t, 8, ticks.StrategyOpts.QueueSize)
	assert.Equal(t, "tick", ticks.Source.Schedule.Payload)
}

func TestValidate(t *testing.T) {
	for name, doc := range map[string]string{
		"no name":        "flows:\n  - stages: []\n",
		"duplicate":      "flows:\n  - name: a\n  - name: a\n",
		"unknown source": "flows:\n  - name: a\n    source:\n      type: kafka\n",
		"no schedule":    "flows:\n  - name: a\n    source:\n      type: schedule\n",
		"no mqtt":        "flows:\n  - name: a\n    source:\n      type: mqtt\n",
		"negative":       "workers: -1\n",
	} {
		_, err := Parse([]byte(doc))
		assert.ErrorIs(t, err, ErrInvalidSettings, name)
	}
	_, err := Parse([]byte("flows: ["))
	assert.NotNil(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "settings.yaml")
	require.Nil(t, os.WriteFile(yamlPath, []byte(settingsYaml), 0o600))
	s, err := FromFile(yamlPath)
	require.Nil(t, err)
	assert.Len(t, s.Flows, 2)

	jsonPath := filepath.Join(dir, "settings.json")
	require.Nil(t, os.WriteFile(jsonPath, []byte(`{"workers": 2, "flows": [{"name": "a", "drainTimeout": "1s"}]}`), 0o600))
	s, err = FromFile(jsonPath)
	require.Nil(t, err)
	assert.Equal(t, 2, s.Workers)
	assert.Equal(t, time.Second, s.Flows[0].DrainTimeout)

	_, err = FromFile(filepath.Join(dir, "settings.toml"))
	assert.NotNil(t, err)
	_, err = FromFile(filepath.Join(dir, "missing.yaml"))
	assert.NotNil(t, err)
}

func TestLoad(t *testing.T) {
	s, err := Parse([]byte(settingsYaml))
	require.Nil(t, err)
	logger := &test.Logger{}
	ctx := context.Background()
	b, err := Load(ctx, s, logger)
	require.Nil(t, err)
	require.Nil(t, b.Start())
	defer func() {
		assert.Nil(t, b.Stop(ctx))
	}()
	require.Len(t, b.Flows, 2)
	flow, ok := b.Runtime.Get("http")
	require.True(t, ok)
	assert.Equal(t, engine.Started, flow.State())
	require.IsType(t, &schedule.Schedule{}, b.Sources["ticks"])

	src, ok := b.Sources["http"].(*rest.Rest)
	require.True(t, ok)
	url := "http://" + src.Addr() + "/in?messageId="
	send := func(id, body string) (int, string) {
		resp, err := http.Post(url+id, types.MediaTypeText, strings.NewReader(body))
		require.Nil(t, err)
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(data)
	}
	code, body := send("m1", "abc")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "got:ABC", body)
	code, _ = send("m1", "abc")
	assert.Equal(t, http.StatusConflict, code)
	code, _ = send("m2", "drop")
	assert.Equal(t, http.StatusNoContent, code)

	// the debug aspect logs every event in and out
	assert.NotEmpty(t, logger.Lines())

	b.Sources["ticks"].(*schedule.Schedule).Trigger()
	ticks, _ := b.Runtime.Get("ticks")
	require.Eventually(t, func() bool { return ticks.Statistics().Get().Processed >= 1 }, time.Second, 5*time.Millisecond)
}

func TestMqttSourceSettings(t *testing.T) {
	s, err := Parse([]byte(`
flows:
  - name: telemetry
    source:
      type: mqtt
      mqtt:
        server: tcp://127.0.0.1:1883
        qos: 1
        topics: [devices/+/telemetry, alarms/#]
`))
	require.Nil(t, err)
	conf := s.Flows[0].Source.Mqtt
	require.NotNil(t, conf)
	assert.Equal(t, "tcp://127.0.0.1:1883", conf.Server)
	assert.Equal(t, uint8(1), conf.QOS)
	assert.Equal(t, []string{"devices/+/telemetry", "alarms/#"}, conf.Topics)
	src, err := s.Flows[0].NewSource(types.NewConfig())
	require.Nil(t, err)
	assert.IsType(t, &mqttsource.Mqtt{}, src)
}

func TestLoadFailure(t *testing.T) {
	s, err := Parse([]byte("flows:\n  - name: ok\n  - name: bad\n    stages:\n      - processor:\n          type: nope\n"))
	require.Nil(t, err)
	_, err = Load(context.Background(), s, types.DiscardLogger())
	assert.ErrorIs(t, err, types.ErrComponentNotFound)

	s, err = Parse([]byte("idempotent:\n  driverName: oracle\n"))
	require.Nil(t, err)
	_, err = Load(context.Background(), s, nil)
	assert.NotNil(t, err)
}
