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
	"errors"
	"regexp"
	"strings"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/utils/maps"
	"github.com/rulego/flowmesh/utils/str"
)

func init() {
	Registry.Add(&PropertyFilter{})
}

// PropertyFilterConfiguration PropertyFilter配置结构
type PropertyFilterConfiguration struct {
	// Scope of the checked properties: inbound (default), outbound or invocation.
	Scope string
	// Keys 指定要检查的属性名称，多个名称用逗号分隔
	// A dotted key reaches into a map property.
	// Example: "deviceId,location.city"
	Keys string
	// CheckAllKeys 决定字段检查逻辑
	//   - true: all keys must be present
	//   - false: any key present passes
	CheckAllKeys bool
	// Pattern optionally constrains the values of the present keys.
	Pattern string
}

// PropertyFilter accepts events carrying the configured message properties,
// optionally with values matching Pattern.
type PropertyFilter struct {
	Config  PropertyFilterConfiguration
	scope   types.Scope
	keys    []string
	pattern *regexp.Regexp
}

func (x *PropertyFilter) Type() string {
	return "propertyFilter"
}

func (x *PropertyFilter) New() types.Component {
	return &PropertyFilter{Config: PropertyFilterConfiguration{Scope: types.InboundScope.String(), CheckAllKeys: true}}
}

func (x *PropertyFilter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	scope, err := types.ParseScope(x.Config.Scope)
	if err != nil {
		return err
	}
	x.scope = scope
	x.keys = filterEmptyStrings(strings.Split(x.Config.Keys, ","))
	if len(x.keys) == 0 {
		return errors.New("property filter requires keys")
	}
	if x.Config.Pattern != "" {
		if x.pattern, err = regexp.Compile(x.Config.Pattern); err != nil {
			return err
		}
	}
	return nil
}

func (x *PropertyFilter) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if x.Accept(event) {
		return event, nil
	}
	return Reject(event, x.Type()), nil
}

// Accept applies the ALL/ANY logic over the configured keys.
func (x *PropertyFilter) Accept(event *types.Event) bool {
	for _, key := range x.keys {
		found := x.has(event, key)
		if x.Config.CheckAllKeys && !found {
			return false
		}
		if !x.Config.CheckAllKeys && found {
			return true
		}
	}
	return x.Config.CheckAllKeys
}

func (x *PropertyFilter) has(event *types.Event, key string) bool {
	v, ok := x.lookup(event, key)
	if !ok {
		return false
	}
	return x.pattern == nil || x.pattern.MatchString(str.ToString(v))
}

// lookup resolves key as a property name, then as a dotted path into a map
// property, e.g. location.city.
func (x *PropertyFilter) lookup(event *types.Event, key string) (interface{}, bool) {
	if v, ok := event.Message().Property(x.scope, key); ok {
		return v, true
	}
	head, path, ok := strings.Cut(key, ".")
	if !ok {
		return nil, false
	}
	v, ok := event.Message().Property(x.scope, head)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	nested := maps.Get(m, path)
	return nested, nested != nil
}

func (x *PropertyFilter) Destroy() {
}

// filterEmptyStrings 过滤空字符串
func filterEmptyStrings(items []string) []string {
	var result []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
