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

package inbound

import (
	"context"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/utils/maps"
)

func init() {
	Registry.Add(&PassThroughRouter{}, &SelectiveConsumer{})
}

// PassThroughRouter accepts every event and returns it unchanged.
type PassThroughRouter struct{}

func (x *PassThroughRouter) Type() string {
	return "passThrough"
}

func (x *PassThroughRouter) New() types.Component {
	return &PassThroughRouter{}
}

func (x *PassThroughRouter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	return nil
}

func (x *PassThroughRouter) IsMatch(ctx context.Context, event *types.Event) (bool, error) {
	return true, nil
}

func (x *PassThroughRouter) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	return event, nil
}

func (x *PassThroughRouter) Destroy() {
}

// SelectiveConsumerConfiguration 选择性消费者配置
type SelectiveConsumerConfiguration struct {
	// Condition is an expression that must evaluate to true, e.g. `inbound.region == "eu"`.
	Condition string
}

// SelectiveConsumer accepts the events matching a condition. Events that do not
// match fall through to the next router of the collection or to its catch-all.
type SelectiveConsumer struct {
	Config    SelectiveConsumerConfiguration
	predicate *base.Predicate
}

func (x *SelectiveConsumer) Type() string {
	return "selectiveConsumer"
}

func (x *SelectiveConsumer) New() types.Component {
	return &SelectiveConsumer{Config: SelectiveConsumerConfiguration{Condition: "true"}}
}

func (x *SelectiveConsumer) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	p, err := base.NewPredicate(ruleConfig, x.Config.Condition)
	if err != nil {
		return err
	}
	x.predicate = p
	return nil
}

func (x *SelectiveConsumer) IsMatch(ctx context.Context, event *types.Event) (bool, error) {
	return x.predicate.Test(event)
}

func (x *SelectiveConsumer) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	return event, nil
}

func (x *SelectiveConsumer) Destroy() {
}
