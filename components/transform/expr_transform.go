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

package transform

//配置示例：
//{
//  "type": "exprTransform",
//  "configuration": {
//    "mapping": {
//      "name": "upper(payload.name)",
//      "tmp": "payload.temperature * 1.8 + 32"
//    }
//  }
//}
import (
	"context"
	"errors"
	"strings"

	"github.com/expr-lang/expr/vm"
	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/utils/maps"
)

func init() {
	Registry.Add(&ExprTransform{})
}

// ExprTransformConfiguration 节点配置
type ExprTransformConfiguration struct {
	// Expr 表达式，结果作为新的负载
	Expr string
	// Mapping 字段映射，Expr 为空时使用。结果为 JSON 对象
	Mapping map[string]string
}

// ExprTransform replaces the payload with the result of Expr, or with the
// object built from Mapping when Expr is empty.
type ExprTransform struct {
	Config         ExprTransformConfiguration
	config         types.Config
	program        *vm.Program
	programMapping map[string]*vm.Program
}

func (x *ExprTransform) Type() string {
	return "exprTransform"
}

func (x *ExprTransform) New() types.Component {
	return &ExprTransform{}
}

func (x *ExprTransform) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	x.config = ruleConfig
	if exprV := strings.TrimSpace(x.Config.Expr); exprV != "" {
		program, err := base.CompileExpr(exprV)
		if err != nil {
			return err
		}
		x.program = program
		return nil
	}
	if len(x.Config.Mapping) == 0 {
		return errors.New("expr or mapping is required")
	}
	x.programMapping = make(map[string]*vm.Program, len(x.Config.Mapping))
	for k, v := range x.Config.Mapping {
		program, err := base.CompileExpr(v)
		if err != nil {
			return err
		}
		x.programMapping[k] = program
	}
	return nil
}

func (x *ExprTransform) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	env := base.NodeUtils.GetEnv(x.config, event)
	var exprVm = vm.VM{}
	if x.program != nil {
		out, err := exprVm.Run(x.program, env)
		if err != nil {
			return event, err
		}
		return event.WithPayload(out), nil
	}
	mapResult := make(map[string]interface{}, len(x.programMapping))
	for fieldName, program := range x.programMapping {
		out, err := exprVm.Run(program, env)
		if err != nil {
			return event, err
		}
		mapResult[fieldName] = out
	}
	msg := event.Message().WithPayload(types.Payload{Value: mapResult, MediaType: types.MediaTypeJSON})
	return event.WithMessage(msg), nil
}

func (x *ExprTransform) Destroy() {
}
