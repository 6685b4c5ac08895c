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

//配置示例：
//{
//  "type": "exprFilter",
//  "configuration": {
//    "expr": "payload.temperature > 50 && inbound.deviceType == 'sensor'"
//  }
//}
import (
	"context"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/utils/maps"
)

func init() {
	Registry.Add(&ExprFilter{})
}

// ExprFilterConfiguration 节点配置
type ExprFilterConfiguration struct {
	// 表达式
	Expr string
}

// ExprFilter 使用expr表达式过滤消息
// Variables: `id`, `ts`, `payload` (decoded when JSON), `mediaType`,
// `inbound`, `outbound`, `invocation`, `correlationId`, `sequence`, `groupSize`, `flow`.
type ExprFilter struct {
	Config    ExprFilterConfiguration
	predicate *base.Predicate
}

func (x *ExprFilter) Type() string {
	return "exprFilter"
}

func (x *ExprFilter) New() types.Component {
	return &ExprFilter{}
}

func (x *ExprFilter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	p, err := base.NewPredicate(ruleConfig, x.Config.Expr)
	if err != nil {
		return err
	}
	x.predicate = p
	return nil
}

func (x *ExprFilter) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	ok, err := x.predicate.Test(event)
	if err != nil {
		return event, err
	}
	if !ok {
		return Reject(event, x.Type()), nil
	}
	return event, nil
}

func (x *ExprFilter) Destroy() {
}
