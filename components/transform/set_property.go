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
//  "type": "setProperty",
//  "configuration": {
//    "scope": "outbound",
//    "mapping": {
//      "topic": "devices/${inbound.deviceId}/telemetry",
//      "level": "${payload.temperature > 50 ? 'high' : 'normal'}"
//    }
//  }
//}
import (
	"context"
	"errors"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/utils/el"
	"github.com/rulego/flowmesh/utils/maps"
)

func init() {
	Registry.Add(&SetProperty{})
}

// SetPropertyConfiguration 节点配置
type SetPropertyConfiguration struct {
	// Scope of the set properties: inbound, outbound (default) or invocation.
	Scope string
	// Mapping from property name to value template.
	Mapping map[string]string
}

// SetProperty sets message properties from templates evaluated against the event.
// A template that is a single ${} keeps the type of the expression result.
type SetProperty struct {
	Config    SetPropertyConfiguration
	config    types.Config
	scope     types.Scope
	templates map[string]el.Template
}

func (x *SetProperty) Type() string {
	return "setProperty"
}

func (x *SetProperty) New() types.Component {
	return &SetProperty{Config: SetPropertyConfiguration{Scope: types.OutboundScope.String()}}
}

func (x *SetProperty) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	scope, err := types.ParseScope(x.Config.Scope)
	if err != nil {
		return err
	}
	if len(x.Config.Mapping) == 0 {
		return errors.New("mapping is required")
	}
	x.config = ruleConfig
	x.scope = scope
	x.templates = make(map[string]el.Template, len(x.Config.Mapping))
	for k, v := range x.Config.Mapping {
		tmpl, err := el.NewTemplate(v)
		if err != nil {
			return err
		}
		x.templates[k] = tmpl
	}
	return nil
}

func (x *SetProperty) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	var env map[string]interface{}
	props := make(map[string]any, len(x.templates))
	for k, tmpl := range x.templates {
		if tmpl.HasVar() && env == nil {
			env = base.NodeUtils.GetEnv(x.config, event)
		}
		v, err := tmpl.Execute(env)
		if err != nil {
			return event, err
		}
		props[k] = v
	}
	return event.WithMessage(event.Message().WithProperties(x.scope, props)), nil
}

func (x *SetProperty) Destroy() {
}
