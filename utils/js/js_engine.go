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

// Package js runs JavaScript functions with goja.
package js

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/builtin/funcs"
)

const (
	GlobalKey = types.Global
	CtxKey    = "$ctx"
)

// GojaJsEngine runs functions of one compiled script on pooled goja runtimes.
// String values in Config.Udf are compiled as JavaScript and loaded in every
// runtime, other values are exposed as globals.
type GojaJsEngine struct {
	vmPool      sync.Pool
	config      types.Config
	jsScript    *goja.Program
	udfPrograms map[string]*goja.Program
}

// NewGojaJsEngine compiles jsScript. fromVars are set as globals in every runtime.
func NewGojaJsEngine(config types.Config, jsScript string, fromVars map[string]interface{}) (*GojaJsEngine, error) {
	program, err := goja.Compile("", jsScript, true)
	if err != nil {
		return nil, err
	}
	jsEngine := &GojaJsEngine{
		config:      config,
		jsScript:    program,
		udfPrograms: make(map[string]*goja.Program),
	}
	for k, v := range config.Udf {
		if src, ok := v.(string); ok {
			p, err := goja.Compile(k, src, true)
			if err != nil {
				return nil, fmt.Errorf("compile udf %s: %w", k, err)
			}
			jsEngine.udfPrograms[k] = p
		}
	}
	jsEngine.vmPool = sync.Pool{
		New: func() interface{} {
			return jsEngine.newVm(fromVars)
		},
	}
	return jsEngine, nil
}

func (g *GojaJsEngine) newVm(fromVars map[string]interface{}) *goja.Runtime {
	vm := goja.New()
	for k, v := range fromVars {
		if err := vm.Set(k, v); err != nil {
			g.config.Printf("set fromVar %s error: %s", k, err.Error())
		}
	}
	if len(g.config.Properties) != 0 {
		if err := vm.Set(GlobalKey, g.config.Properties); err != nil {
			g.config.Printf("set global properties error: %s", err.Error())
		}
	}
	funcs.Udf.Range(func(name string, value any) bool {
		if err := vm.Set(name, value); err != nil {
			g.config.Printf("load builtin func %s error: %s", name, err.Error())
		}
		return true
	})
	for k, v := range g.config.Udf {
		var err error
		if p, ok := g.udfPrograms[k]; ok {
			_, err = vm.RunProgram(p)
		} else {
			err = vm.Set(k, v)
		}
		if err != nil {
			g.config.Printf("load udf %s error: %s", k, err.Error())
		}
	}
	timer := g.startTimeout(vm)
	_, err := vm.RunProgram(g.jsScript)
	g.stopTimeout(vm, timer)
	if err != nil {
		g.config.Printf("js vm error: %s", err.Error())
	}
	return vm
}

// Execute calls functionName with the arguments and returns the exported result.
func (g *GojaJsEngine) Execute(ctx context.Context, functionName string, argumentList ...interface{}) (out interface{}, err error) {
	defer func() {
		if caught := recover(); caught != nil {
			err = fmt.Errorf("%s", caught)
		}
	}()

	vm := g.vmPool.Get().(*goja.Runtime)
	defer g.vmPool.Put(vm)

	if ctx != nil {
		_ = vm.Set(CtxKey, ctx)
		if deadline, ok := ctx.Deadline(); ok {
			stop := time.AfterFunc(time.Until(deadline), func() {
				vm.Interrupt("context deadline exceeded")
			})
			defer func() {
				stop.Stop()
				vm.ClearInterrupt()
			}()
		}
	}
	timer := g.startTimeout(vm)
	defer g.stopTimeout(vm, timer)

	f, ok := goja.AssertFunction(vm.Get(functionName))
	if !ok {
		return nil, errors.New(functionName + " is not a function")
	}
	params := make([]goja.Value, len(argumentList))
	for i, v := range argumentList {
		params[i] = vm.ToValue(v)
	}
	res, err := f(goja.Undefined(), params...)
	if err != nil {
		return nil, err
	}
	return res.Export(), nil
}

func (g *GojaJsEngine) Stop() {
}

func (g *GojaJsEngine) startTimeout(vm *goja.Runtime) *time.Timer {
	if g.config.ScriptMaxExecutionTime <= 0 {
		return nil
	}
	return time.AfterFunc(g.config.ScriptMaxExecutionTime, func() {
		vm.Interrupt("execution timeout")
	})
}

func (g *GojaJsEngine) stopTimeout(vm *goja.Runtime, timer *time.Timer) {
	if timer != nil {
		timer.Stop()
		vm.ClearInterrupt()
	}
}
