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

package base

import (
	"strings"
	"testing"

	"github.com/rulego/flowmesh/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	config := types.NewConfig(types.WithProperties(map[string]string{"env": "prod"}))
	config.RegisterUdf("upper", strings.ToUpper)
	event := types.NewPayloadEvent(`{"temperature":41}`, types.MediaTypeJSON,
		types.WithCorrelationGroup("c1", 3, 2)).
		WithProperty(types.InboundScope, "region", "eu")

	env := NodeUtils.GetEnv(config, event)
	assert.Equal(t, event.Id(), env[IdKey])
	assert.Equal(t, map[string]interface{}{"temperature": float64(41)}, env[PayloadKey])
	assert.Equal(t, "c1", env[CorrelationIdKey])
	assert.Equal(t, 2, env[SequenceKey])
	assert.Equal(t, 3, env[GroupSizeKey])
	assert.Equal(t, "eu", env[InboundKey].(map[string]any)["region"])
	assert.NotNil(t, env["upper"])
	assert.NotNil(t, env["escape"])

	p, err := NewPredicate(config, `payload.temperature > 40 && inbound.region == "eu" && global.env == "prod" && upper("a") == "A" && escape("\\n") == "\\\\n"`)
	require.Nil(t, err)
	ok, err := p.Test(event)
	assert.Nil(t, err)
	assert.True(t, ok)
}

func TestPrepareData(t *testing.T) {
	assert.Equal(t, "{bad", NodeUtils.PrepareData(types.Payload{Value: "{bad", MediaType: types.MediaTypeJSON}))
	assert.Equal(t, []interface{}{float64(1)}, NodeUtils.PrepareData(types.Payload{Value: []byte("[1]"), MediaType: types.MediaTypeJSON}))
	assert.Equal(t, "[1]", NodeUtils.PrepareData(types.Payload{Value: "[1]", MediaType: types.MediaTypeText}))
}

func TestCompilePredicate(t *testing.T) {
	_, err := CompilePredicate("")
	assert.NotNil(t, err)
	_, err = CompilePredicate("1 + 1")
	assert.NotNil(t, err)
	program, err := CompileExpr("1 + 1")
	require.Nil(t, err)
	_, err = EvalBool(program, nil)
	assert.ErrorIs(t, err, ErrNotBool)
}
