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

// Package flowmesh is a flow execution engine. Events enter a flow through an
// inbound router collection, pass a filter, a security filter and a processor
// chain under a processing strategy, and leave through an outbound router collection.
//
// # Usage
//
// Define a flow:
//
//	name: echo
//	filter:
//	  type: exprFilter
//	  configuration:
//	    expr: payload != "drop"
//	stages:
//	  - processor:
//	      type: exprTransform
//	      configuration:
//	        expr: upper(payload)
//
// Deploy it on the default runtime:
//
//	flow, err := flowmesh.New(nil, []byte(flowFile))
//
// Process an event:
//
//	result, err := flow.Process(ctx, types.NewPayloadEvent("abc", types.MediaTypeText))
//
// Load every flow of a folder:
//
//	err := flowmesh.Load("./flows")
//
// Get a flow:
//
//	flow, ok := flowmesh.Get("echo")
package flowmesh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/engine"
	"gopkg.in/yaml.v3"
)

// ErrMissingName is returned for a flow definition without a name.
var ErrMissingName = errors.New("flow definition has no name")

// DefaultRuntime 默认流运行时
var DefaultRuntime = engine.NewRuntime()

// Parse decodes a yaml or json flow definition.
func Parse(src []byte) (engine.FlowDef, error) {
	var def engine.FlowDef
	if err := yaml.Unmarshal(src, &def); err != nil {
		return def, err
	}
	if def.Name == "" {
		return def, ErrMissingName
	}
	return def, nil
}

// Deploy parses src, creates the flow on rt and starts it.
// A nil source leaves the flow fed by Process and Dispatch only.
func Deploy(rt *engine.Runtime, source types.Source, src []byte) (*engine.Flow, error) {
	def, err := Parse(src)
	if err != nil {
		return nil, err
	}
	flow, err := rt.Deploy(def, source)
	if err != nil {
		return nil, err
	}
	if err := flow.Start(); err != nil {
		return flow, err
	}
	return flow, nil
}

// LoadInto deploys every .yaml, .yml and .json file of folderPath on rt.
func LoadInto(rt *engine.Runtime, folderPath string) error {
	if folderPath == "" {
		folderPath = "."
	}
	entries, err := os.ReadDir(folderPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		path := filepath.Join(folderPath, entry.Name())
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := Deploy(rt, nil, src); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// New 在默认运行时创建并启动流
func New(source types.Source, src []byte) (*engine.Flow, error) {
	return Deploy(DefaultRuntime, source, src)
}

// Load deploys every flow file of folderPath on the default runtime.
func Load(folderPath string) error {
	return LoadInto(DefaultRuntime, folderPath)
}

// Get 获取指定名称的流
func Get(name string) (*engine.Flow, bool) {
	return DefaultRuntime.Get(name)
}

// Del stops and removes a flow from the default runtime.
func Del(ctx context.Context, name string) error {
	return DefaultRuntime.Remove(ctx, name)
}

// Stop stops every flow of the default runtime.
func Stop(ctx context.Context) error {
	return DefaultRuntime.StopAll(ctx)
}
