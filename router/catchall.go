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

package router

import (
	"context"
	"fmt"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/utils/maps"
)

// Catch-all strategy kinds.
const (
	CatchAllForwarding = "forwarding"
	CatchAllLogging    = "logging"
)

var (
	_ types.CatchAllStrategy = (*ForwardingCatchAll)(nil)
	_ types.CatchAllStrategy = (*LoggingCatchAll)(nil)
)

// NewCatchAll creates a catch-all strategy by kind. An empty kind returns nil.
func NewCatchAll(config types.Config, kind string, configuration types.Configuration) (types.CatchAllStrategy, error) {
	switch kind {
	case "":
		return nil, nil
	case CatchAllForwarding:
		c := &ForwardingCatchAll{config: config}
		if err := maps.Map2Struct(configuration, &c.Target); err != nil {
			return nil, err
		}
		if len(c.Target.Targets) != 1 {
			return nil, fmt.Errorf("forwarding catch-all needs exactly one target, got %d", len(c.Target.Targets))
		}
		return c, nil
	case CatchAllLogging:
		return &LoggingCatchAll{config: config}, nil
	default:
		return nil, fmt.Errorf("%w: catch-all %q", types.ErrComponentNotFound, kind)
	}
}

// ForwardingCatchAll forwards unmatched events to one fallback target.
type ForwardingCatchAll struct {
	Target TargetConfig
	config types.Config
}

// NewForwardingCatchAll creates a forwarding catch-all for address.
func NewForwardingCatchAll(config types.Config, address string) *ForwardingCatchAll {
	return &ForwardingCatchAll{config: config, Target: TargetConfig{Targets: []string{address}}}
}

func (c *ForwardingCatchAll) Catch(ctx context.Context, event *types.Event) (*types.Event, error) {
	t, err := c.Target.Resolve(c.config, c.Target.Targets[0])
	if err != nil {
		return event, err
	}
	return t.Invoke(ctx, event.WithProperty(types.InvocationScope, types.PropertyRouteTarget, t.Address))
}

// LoggingCatchAll logs and drops unmatched events.
type LoggingCatchAll struct {
	config types.Config
}

func (c *LoggingCatchAll) Catch(ctx context.Context, event *types.Event) (*types.Event, error) {
	c.config.Printf("flow %s: no router matched event %s, dropped", event.FlowName(), event.Id())
	c.config.Notify(types.NotificationRouteNotFound, event.FlowName(), CatchAllLogging, event, nil)
	return nil, nil
}
