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

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/utils/maps"
	"github.com/rulego/flowmesh/utils/str"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	Registry.Add(&SecurityFilter{})
}

// SecurityFilterConfiguration 安全过滤器配置
type SecurityFilterConfiguration struct {
	// Expr authorises the events for which it is true, e.g. `inbound.token == global.apiToken`.
	// Ignored when a Provider is set.
	Expr string
	// Users maps user names to bcrypt password hashes. When set, events are
	// authenticated by the UserKey and PasswordKey inbound properties instead of Expr.
	Users map[string]string
	// UserKey 用户名属性，默认 username
	UserKey string
	// PasswordKey 密码属性，默认 password
	PasswordKey string
}

// SecurityFilter authenticates events with a types.SecurityProvider. An event
// that fails authentication is marked Unauthorised, which stops the chain, and
// a NotificationSecurityFailure notification is raised.
type SecurityFilter struct {
	Config SecurityFilterConfiguration
	// Provider overrides the expression provider.
	Provider types.SecurityProvider
	config   types.Config
}

// NewSecurityFilter creates a security filter over provider.
func NewSecurityFilter(config types.Config, provider types.SecurityProvider) *SecurityFilter {
	return &SecurityFilter{Provider: provider, config: config}
}

func (x *SecurityFilter) Type() string {
	return "securityFilter"
}

func (x *SecurityFilter) New() types.Component {
	return &SecurityFilter{}
}

func (x *SecurityFilter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	x.config = ruleConfig
	if x.Provider != nil {
		return nil
	}
	if len(x.Config.Users) != 0 {
		x.Provider = &CredentialSecurityProvider{
			Users:       x.Config.Users,
			UserKey:     x.Config.UserKey,
			PasswordKey: x.Config.PasswordKey,
		}
		return nil
	}
	p, err := base.NewPredicate(ruleConfig, x.Config.Expr)
	if err != nil {
		return err
	}
	x.Provider = &ExprSecurityProvider{predicate: p}
	return nil
}

func (x *SecurityFilter) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	err := x.Provider.Authenticate(ctx, event)
	if err == nil {
		return event, nil
	}
	if !errors.Is(err, types.ErrUnauthorised) {
		err = errors.Join(types.ErrUnauthorised, err)
	}
	x.config.Notify(types.NotificationSecurityFailure, event.FlowName(), x.Type(), event, err)
	return event.WithException(types.NewExceptionPayload(types.KindUnauthorised, err)), nil
}

func (x *SecurityFilter) Destroy() {
}

// ExprSecurityProvider authorises the events for which an expression is true.
type ExprSecurityProvider struct {
	predicate *base.Predicate
}

func (p *ExprSecurityProvider) Authenticate(ctx context.Context, event *types.Event) error {
	ok, err := p.predicate.Test(event)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrUnauthorised
	}
	return nil
}

// CredentialSecurityProvider checks the user name and password carried in
// inbound properties against bcrypt hashes.
type CredentialSecurityProvider struct {
	// Users maps user names to bcrypt hashes.
	Users       map[string]string
	UserKey     string
	PasswordKey string
}

func (p *CredentialSecurityProvider) Authenticate(ctx context.Context, event *types.Event) error {
	userKey, passwordKey := p.UserKey, p.PasswordKey
	if userKey == "" {
		userKey = "username"
	}
	if passwordKey == "" {
		passwordKey = "password"
	}
	user, _ := event.Message().Property(types.InboundScope, userKey)
	password, _ := event.Message().Property(types.InboundScope, passwordKey)
	hash, ok := p.Users[str.ToString(user)]
	if !ok {
		return types.ErrUnauthorised
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(str.ToString(password))); err != nil {
		return errors.Join(types.ErrUnauthorised, err)
	}
	return nil
}
