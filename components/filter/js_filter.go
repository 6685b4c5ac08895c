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

import (
	"context"
	"fmt"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/utils/js"
	"github.com/rulego/flowmesh/utils/maps"
)

func init() {
	Registry.Add(&JsFilter{})
}

// JsFilterConfiguration 节点配置
type JsFilterConfiguration struct {
	// JsScript 配置函数体脚本内容
	// 完整脚本函数：
	// function Filter(payload, inbound, invocation) { ${JsScript} }
	// return bool
	JsScript string
}

// JsFilter 使用js脚本过滤传入信息
// The payload is passed decoded when it is JSON. A result other than true rejects the event.
type JsFilter struct {
	Config   JsFilterConfiguration
	jsEngine *js.GojaJsEngine
}

func (x *JsFilter) Type() string {
	return "jsFilter"
}

func (x *JsFilter) New() types.Component {
	return &JsFilter{Config: JsFilterConfiguration{JsScript: "return payload !== undefined && payload !== null;"}}
}

func (x *JsFilter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	jsScript := fmt.Sprintf("function Filter(payload, inbound, invocation) { %s }", x.Config.JsScript)
	jsEngine, err := js.NewGojaJsEngine(ruleConfig, jsScript, nil)
	if err != nil {
		return err
	}
	x.jsEngine = jsEngine
	return nil
}

func (x *JsFilter) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	msg := event.Message()
	out, err := x.jsEngine.Execute(ctx, "Filter",
		base.NodeUtils.PrepareData(msg.Payload()),
		map[string]any(msg.Properties(types.InboundScope)),
		map[string]any(msg.Properties(types.InvocationScope)))
	if err != nil {
		return event, err
	}
	if accepted, ok := out.(bool); ok && accepted {
		return event, nil
	}
	return Reject(event, x.Type()), nil
}

func (x *JsFilter) Destroy() {
	if x.jsEngine != nil {
		x.jsEngine.Stop()
	}
}
