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

package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/expr-lang/expr/vm"
	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/router"
	"github.com/rulego/flowmesh/utils/cast"
	"github.com/rulego/flowmesh/utils/el"
	"github.com/rulego/flowmesh/utils/maps"
)

func init() {
	Registry.Add(&MulticastingRouter{}, &StaticRecipientList{}, &TemplateEndpointRouter{})
}

// MulticastingRouter sends a copy of the event to every target.
type MulticastingRouter struct {
	routerBase
	Config Configuration
}

func (x *MulticastingRouter) Type() string {
	return "multicasting"
}

func (x *MulticastingRouter) New() types.Component {
	return &MulticastingRouter{}
}

func (x *MulticastingRouter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if len(x.Config.Targets) == 0 {
		return types.ErrNoTargets
	}
	return x.init(ruleConfig, x.Type(), x.Config)
}

func (x *MulticastingRouter) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	targets, err := x.resolveAll(x.Config.Targets)
	if err != nil {
		return event, err
	}
	return x.dispatcher.Dispatch(ctx, event, targets, router.Same(event, len(targets)))
}

// StaticRecipientListConfiguration 静态收件人列表配置
type StaticRecipientListConfiguration struct {
	Configuration `mapstructure:",squash"`
	// Recipients is an expression evaluating to a list of addresses, or a comma
	// separated string of them. Empty uses Targets.
	Recipients string
}

// StaticRecipientList sends a copy of the event to each address of the
// recipient list computed for it.
type StaticRecipientList struct {
	routerBase
	Config     StaticRecipientListConfiguration
	recipients *vm.Program
}

func (x *StaticRecipientList) Type() string {
	return "staticRecipientList"
}

func (x *StaticRecipientList) New() types.Component {
	return &StaticRecipientList{}
}

func (x *StaticRecipientList) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Recipients == "" && len(x.Config.Targets) == 0 {
		return errors.New("static recipient list requires recipients or targets")
	}
	if x.Config.Recipients != "" {
		program, err := base.CompileExpr(x.Config.Recipients)
		if err != nil {
			return err
		}
		x.recipients = program
	}
	return x.init(ruleConfig, x.Type(), x.Config.Configuration)
}

// RecipientsOf returns the addresses event is sent to.
func (x *StaticRecipientList) RecipientsOf(event *types.Event) ([]string, error) {
	if x.recipients == nil {
		return x.Config.Targets, nil
	}
	out, err := vm.Run(x.recipients, base.NodeUtils.GetEnv(x.config, event))
	if err != nil {
		return nil, err
	}
	return cast.ToStringSlice(out)
}

func (x *StaticRecipientList) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	recipients, err := x.RecipientsOf(event)
	if err != nil {
		return event, fmt.Errorf("recipients: %w", err)
	}
	targets, err := x.resolveAll(recipients)
	if err != nil {
		return event, err
	}
	return x.dispatcher.Dispatch(ctx, event, targets, router.Same(event, len(targets)))
}

// TemplateEndpointConfiguration 模板端点配置
type TemplateEndpointConfiguration struct {
	Configuration `mapstructure:",squash"`
	// Address is a template such as `flow://orders-${inbound.region}`. A result
	// holding a list or commas fans out to each address.
	Address string
}

// TemplateEndpointRouter renders its address template for each event and sends
// the event to the resulting addresses.
type TemplateEndpointRouter struct {
	routerBase
	Config   TemplateEndpointConfiguration
	template el.Template
}

func (x *TemplateEndpointRouter) Type() string {
	return "templateEndpoint"
}

func (x *TemplateEndpointRouter) New() types.Component {
	return &TemplateEndpointRouter{}
}

func (x *TemplateEndpointRouter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Address == "" {
		return errors.New("template endpoint requires an address")
	}
	tmpl, err := el.NewTemplate(x.Config.Address)
	if err != nil {
		return err
	}
	x.template = tmpl
	return x.init(ruleConfig, x.Type(), x.Config.Configuration)
}

// AddressesOf renders the template for event.
func (x *TemplateEndpointRouter) AddressesOf(event *types.Event) ([]string, error) {
	out, err := x.template.Execute(base.NodeUtils.GetEnv(x.config, event))
	if err != nil {
		return nil, err
	}
	return cast.ToStringSlice(out)
}

func (x *TemplateEndpointRouter) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	addresses, err := x.AddressesOf(event)
	if err != nil {
		return event, fmt.Errorf("address template: %w", err)
	}
	targets, err := x.resolveAll(addresses)
	if err != nil {
		return event, err
	}
	return x.dispatcher.Dispatch(ctx, event, targets, router.Same(event, len(targets)))
}
