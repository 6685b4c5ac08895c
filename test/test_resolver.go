/*
 * Copyright 2023 The RuleGo Authors.
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

package test

import (
	"context"
	"fmt"
	"sync"

	"github.com/rulego/flowmesh/api/types"
)

// Resolver resolves addresses from a fixed map.
type Resolver map[string]types.Processor

func (r Resolver) Resolve(address string) (types.Processor, error) {
	if p, ok := r[address]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", types.ErrEndpointNotFound, address)
}

// Notifications records notifications.
type Notifications struct {
	mu  sync.Mutex
	all []types.Notification
}

func (n *Notifications) Notify(notification types.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, notification)
}

// Of returns the notifications of kind.
func (n *Notifications) Of(kind types.NotificationKind) []types.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []types.Notification
	for _, item := range n.all {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}

// Config returns a quiet config resolving through resolver and recording notifications.
func Config(resolver types.EndpointResolver, notifications *Notifications, opts ...types.Option) types.Config {
	config := types.NewConfig(append([]types.Option{types.WithLogger(types.DiscardLogger())}, opts...)...)
	if resolver != nil {
		config.Resolver = resolver
	}
	if notifications != nil {
		config.Notifier = notifications
	}
	return config
}

// Authenticator accepts events whose inbound "token" property equals Token.
type Authenticator struct {
	Token string
}

func (a Authenticator) Authenticate(ctx context.Context, event *types.Event) error {
	if v, ok := event.Message().Property(types.InboundScope, "token"); ok && v == a.Token {
		return nil
	}
	return types.ErrUnauthorised
}
