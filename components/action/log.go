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

package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/utils/js"
	"github.com/rulego/flowmesh/utils/maps"
)

func init() {
	Registry.Add(&Log{})
}

// LogConfiguration 节点配置
type LogConfiguration struct {
	// JsScript 配置函数体脚本内容
	// 完整脚本函数：
	// function ToString(payload, inbound, invocation) { ${JsScript} }
	// return string
	JsScript string
}

// Log 使用JS脚本将事件转换成字符串并打印到Config.Logger
type Log struct {
	Config   LogConfiguration
	jsEngine *js.GojaJsEngine
	logger   types.Logger
}

func (x *Log) Type() string {
	return "log"
}

func (x *Log) New() types.Component {
	return &Log{Config: LogConfiguration{
		JsScript: "return 'Incoming message:\\n' + JSON.stringify(payload) + '\\nIncoming properties:\\n' + JSON.stringify(inbound);",
	}}
}

func (x *Log) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	jsScript := fmt.Sprintf("function ToString(payload, inbound, invocation) { %s }", x.Config.JsScript)
	jsEngine, err := js.NewGojaJsEngine(ruleConfig, jsScript, nil)
	if err != nil {
		return err
	}
	x.jsEngine = jsEngine
	x.logger = ruleConfig.Logger
	if x.logger == nil {
		x.logger = types.DefaultLogger()
	}
	return nil
}

func (x *Log) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	msg := event.Message()
	out, err := x.jsEngine.Execute(ctx, "ToString",
		base.NodeUtils.PrepareData(msg.Payload()),
		map[string]any(msg.Properties(types.InboundScope)),
		map[string]any(msg.Properties(types.InvocationScope)))
	if err != nil {
		return event, err
	}
	formatData, ok := out.(string)
	if !ok {
		return event, errors.New("return the value is not string")
	}
	x.logger.Printf("%s", formatData)
	return event, nil
}

func (x *Log) Destroy() {
	if x.jsEngine != nil {
		x.jsEngine.Stop()
	}
}
