/*
 * Copyright 2023 The RuleGo Authors.
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

package js

import (
	"context"
	"testing"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsEngine(t *testing.T) {
	config := types.NewConfig(types.WithProperties(map[string]string{"suffix": "!"}))
	config.RegisterUdf("double", "function double(x){ return x*2; }")
	config.RegisterUdf("upper", func(s string) string { return s + "-go" })

	engine, err := NewGojaJsEngine(config, `function Run(msg){ return double(msg.n) + upper('a') + global.suffix; }`, nil)
	require.Nil(t, err)
	defer engine.Stop()

	out, err := engine.Execute(context.Background(), "Run", map[string]interface{}{"n": 2})
	assert.Nil(t, err)
	assert.Equal(t, "4a-go!", out)

	_, err = engine.Execute(context.Background(), "Missing")
	assert.NotNil(t, err)

	builtin, err := NewGojaJsEngine(types.NewConfig(), `function Run(msg){ return toJson(msg); }`, nil)
	require.Nil(t, err)
	defer builtin.Stop()
	out, err = builtin.Execute(context.Background(), "Run", map[string]interface{}{"n": 2})
	assert.Nil(t, err)
	assert.Equal(t, `{"n":2}`, out)
}

func TestJsEngineTimeout(t *testing.T) {
	config := types.NewConfig(types.WithScriptMaxExecutionTime(100 * time.Millisecond))
	engine, err := NewGojaJsEngine(config, `function Loop(){ while(true){} }`, nil)
	require.Nil(t, err)
	start := time.Now()
	_, err = engine.Execute(context.Background(), "Loop")
	assert.NotNil(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestJsEngineCompileError(t *testing.T) {
	_, err := NewGojaJsEngine(types.NewConfig(), `function (`, nil)
	assert.NotNil(t, err)
}
