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

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/engine"
	"github.com/rulego/flowmesh/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*engine.Runtime, *httptest.Server) {
	rt := engine.NewRuntime(types.WithLogger(types.DiscardLogger()))
	_, err := rt.Deploy(engine.FlowDef{
		Name:   "upper",
		Filter: &engine.ComponentDef{Type: "exprFilter", Configuration: types.Configuration{"expr": "payload != 'drop'"}},
		Stages: []engine.StageDef{
			{Processor: &engine.ComponentDef{Type: "exprTransform", Configuration: types.Configuration{"expr": "upper(payload)"}}},
		},
	}, nil)
	require.Nil(t, err)
	_, err = rt.NewFlow(engine.FlowConfig{Name: "echo", Processors: []types.Processor{test.Echo("!", 0)}})
	require.Nil(t, err)
	require.Nil(t, rt.StartAll())
	server := httptest.NewServer(New(rt))
	t.Cleanup(func() {
		server.Close()
		// t.Context() (Go 1.24+) is already cancelled when Cleanup runs.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = rt.StopAll(ctx)
	})
	return rt, server
}

func do(t *testing.T, method, url, body string) (int, string) {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.Nil(t, err)
	req.Header.Set("Content-Type", types.MediaTypeText)
	resp, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	return resp.StatusCode, string(data)
}

func TestListAndGet(t *testing.T) {
	_, server := newServer(t)
	code, body := do(t, http.MethodGet, server.URL+"/api/v1/flows", "")
	require.Equal(t, http.StatusOK, code)
	var infos []FlowInfo
	require.Nil(t, json.Unmarshal([]byte(body), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "echo", infos[0].Name)
	assert.Equal(t, "upper", infos[1].Name)
	assert.Equal(t, engine.Started.String(), infos[1].State)

	code, _ = do(t, http.MethodGet, server.URL+"/api/v1/flows/missing", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = do(t, http.MethodGet, server.URL+"/api/v1/version", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, Version)
}

func TestPostEvent(t *testing.T) {
	_, server := newServer(t)
	code, body := do(t, http.MethodPost, server.URL+"/api/v1/flows/upper/events", "abc")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ABC", body)

	code, _ = do(t, http.MethodPost, server.URL+"/api/v1/flows/upper/events", "drop")
	assert.Equal(t, http.StatusNoContent, code)

	code, body = do(t, http.MethodGet, server.URL+"/api/v1/flows/upper", "")
	require.Equal(t, http.StatusOK, code)
	var info FlowInfo
	require.Nil(t, json.Unmarshal([]byte(body), &info))
	assert.Equal(t, int64(1), info.Processed)
	assert.Equal(t, int64(1), info.ShortCircuited)
}

func TestLifecycleRoutes(t *testing.T) {
	rt, server := newServer(t)
	code, _ := do(t, http.MethodPost, server.URL+"/api/v1/flows/echo/stop", "")
	assert.Equal(t, http.StatusOK, code)
	flow, _ := rt.Get("echo")
	assert.Equal(t, engine.Stopped, flow.State())

	code, body := do(t, http.MethodPost, server.URL+"/api/v1/flows/echo/events", "x")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "not started")

	code, _ = do(t, http.MethodPost, server.URL+"/api/v1/flows/echo/stop", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, http.MethodPost, server.URL+"/api/v1/flows/echo/start", "")
	assert.Equal(t, http.StatusOK, code)
	code, body = do(t, http.MethodPost, server.URL+"/api/v1/flows/echo/events", "x")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "x!", body)

	code, _ = do(t, http.MethodDelete, server.URL+"/api/v1/flows/echo", "")
	assert.Equal(t, http.StatusNoContent, code)
	_, ok := rt.Get("echo")
	assert.False(t, ok)
	code, _ = do(t, http.MethodDelete, server.URL+"/api/v1/flows/echo", "")
	assert.Equal(t, http.StatusNotFound, code)
}
