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

import (
	"context"
	"errors"
	"fmt"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/utils/js"
	"github.com/rulego/flowmesh/utils/maps"
)

const (
	// PayloadKey, InboundKey and InvocationKey are the fields of the object returned by a transform script.
	PayloadKey    = "payload"
	InboundKey    = "inbound"
	InvocationKey = "invocation"
)

func init() {
	Registry.Add(&JsTransform{})
}

// JsTransformConfiguration 节点配置
type JsTransformConfiguration struct {
	// JsScript 配置函数体脚本内容
	// 完整脚本函数：
	// function Transform(payload, inbound, invocation) { ${JsScript} }
	// return {'payload':payload,'inbound':inbound,'invocation':invocation};
	JsScript string
}

// JsTransform 使用JavaScript转换事件的负载和属性
// Fields missing from the returned object leave the event unchanged.
type JsTransform struct {
	Config   JsTransformConfiguration
	jsEngine *js.GojaJsEngine
}

func (x *JsTransform) Type() string {
	return "jsTransform"
}

func (x *JsTransform) New() types.Component {
	return &JsTransform{Config: JsTransformConfiguration{
		JsScript: "return {'payload':payload,'inbound':inbound,'invocation':invocation};",
	}}
}

func (x *JsTransform) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	jsScript := fmt.Sprintf("function Transform(payload, inbound, invocation) { %s }", x.Config.JsScript)
	jsEngine, err := js.NewGojaJsEngine(ruleConfig, jsScript, nil)
	if err != nil {
		return err
	}
	x.jsEngine = jsEngine
	return nil
}

func (x *JsTransform) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	msg := event.Message()
	out, err := x.jsEngine.Execute(ctx, "Transform",
		base.NodeUtils.PrepareData(msg.Payload()),
		map[string]any(msg.Properties(types.InboundScope)),
		map[string]any(msg.Properties(types.InvocationScope)))
	if err != nil {
		return event, err
	}
	result, ok := out.(map[string]interface{})
	if !ok {
		return event, errors.New("return the value is not a map")
	}
	if payload, ok := result[PayloadKey]; ok {
		mediaType := msg.Payload().MediaType
		switch payload.(type) {
		case map[string]interface{}, []interface{}:
			mediaType = types.MediaTypeJSON
		}
		msg = msg.WithPayload(types.Payload{Value: payload, MediaType: mediaType})
	}
	if props, ok := result[InboundKey].(map[string]interface{}); ok {
		msg = msg.WithProperties(types.InboundScope, props)
	}
	if props, ok := result[InvocationKey].(map[string]interface{}); ok {
		msg = msg.WithProperties(types.InvocationScope, props)
	}
	return event.WithMessage(msg), nil
}

func (x *JsTransform) Destroy() {
	if x.jsEngine != nil {
		x.jsEngine.Stop()
	}
}
