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

// Package base provides the helpers shared by processors and routers:
// the expression environment of an event, compiled predicates and graceful shutdown.
package base

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/builtin/funcs"
)

// Keys of the expression environment.
const (
	IdKey            = "id"
	TsKey            = "ts"
	PayloadKey       = "payload"
	MediaTypeKey     = "mediaType"
	InboundKey       = "inbound"
	OutboundKey      = "outbound"
	InvocationKey    = "invocation"
	CorrelationIdKey = "correlationId"
	SequenceKey      = "sequence"
	GroupSizeKey     = "groupSize"
	FlowKey          = "flow"
	ExceptionKey     = "exception"
)

var ErrNotBool = errors.New("expression result is not a bool")

var NodeUtils = &nodeUtils{}

type nodeUtils struct {
}

// GetEnv builds the variables visible to expressions, templates and scripts for an event.
// Global properties are under `global`. Built-in functions and functions from
// Config.Udf are at the top level, Config.Udf winning on a name clash.
func (n *nodeUtils) GetEnv(config types.Config, event *types.Event) map[string]interface{} {
	msg := event.Message()
	corr := event.Correlation()
	env := make(map[string]interface{}, 16+len(config.Udf))
	funcs.Udf.Range(func(name string, value any) bool {
		env[name] = value
		return true
	})
	for k, v := range config.Udf {
		if _, ok := v.(string); !ok {
			env[k] = v
		}
	}
	env[IdKey] = event.Id()
	env[TsKey] = event.Timestamp()
	env[PayloadKey] = n.PrepareData(msg.Payload())
	env[MediaTypeKey] = msg.Payload().MediaType
	env[InboundKey] = map[string]any(msg.Properties(types.InboundScope))
	env[OutboundKey] = map[string]any(msg.Properties(types.OutboundScope))
	env[InvocationKey] = map[string]any(msg.Properties(types.InvocationScope))
	env[CorrelationIdKey] = event.CorrelationId()
	env[SequenceKey] = corr.Sequence
	env[GroupSizeKey] = corr.GroupSize
	env[FlowKey] = event.FlowName()
	env[types.Global] = config.Properties
	if ex := msg.Exception(); ex != nil {
		env[ExceptionKey] = map[string]any{"kind": string(ex.Kind), "error": ex.Error()}
	}
	return env
}

// PrepareData returns the payload value as expressions and scripts see it.
// JSON text is decoded, other values are passed as they are.
// 根据媒体类型准备数据：JSON 文本解析为 map 或切片，其他类型保持原值。
func (n *nodeUtils) PrepareData(payload types.Payload) interface{} {
	if payload.MediaType != types.MediaTypeJSON {
		return payload.Value
	}
	var raw []byte
	switch v := payload.Value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return payload.Value
	}
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return payload.Value
	}
	return data
}

// CompilePredicate compiles a boolean expression.
func CompilePredicate(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, errors.New("expression is empty")
	}
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	return program, nil
}

// CompileExpr compiles an expression of any result type.
func CompileExpr(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, errors.New("expression is empty")
	}
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	return program, nil
}

// EvalBool runs a program compiled by CompilePredicate.
func EvalBool(program *vm.Program, env map[string]interface{}) (bool, error) {
	out, err := vm.Run(program, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, ErrNotBool
	}
	return b, nil
}

// Predicate is a compiled boolean expression over an event.
type Predicate struct {
	config  types.Config
	program *vm.Program
}

// NewPredicate compiles expression for events evaluated under config.
func NewPredicate(config types.Config, expression string) (*Predicate, error) {
	program, err := CompilePredicate(expression)
	if err != nil {
		return nil, err
	}
	return &Predicate{config: config, program: program}, nil
}

// Test evaluates the predicate for event.
func (p *Predicate) Test(event *types.Event) (bool, error) {
	return EvalBool(p.program, NodeUtils.GetEnv(p.config, event))
}
