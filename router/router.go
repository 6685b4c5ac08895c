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

// Package router provides router collections and the pieces routers share:
// catch-all strategies, target resolution and invocation, and response aggregation.
//
// A Collection is a processor. It offers an event to its routers in order and
// the first router that matches routes it. When none matches, the catch-all
// strategy handles the event, or the event is dropped with a
// NotificationRouteNotFound notification.
//
// Package router 提供路由器集合以及路由器共享的组件：兜底策略、目标解析与调用、响应聚合。
package router

import (
	"context"
	"fmt"

	"github.com/rulego/flowmesh/api/types"
)

// Directions of a collection.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

var _ types.Processor = (*Collection)(nil)

// CatchAllAware is implemented by routers that route expired or unmatched
// events through the catch-all strategy of their collection.
type CatchAllAware interface {
	SetCatchAll(catchAll types.CatchAllStrategy)
}

// Collection is an ordered set of routers plus an optional catch-all strategy.
// Exactly one router, or the catch-all, produces the returned event.
type Collection struct {
	name     string
	config   types.Config
	routers  []types.Router
	catchAll types.CatchAllStrategy
}

// NewCollection creates a collection. Nil routers are skipped.
func NewCollection(config types.Config, name string, catchAll types.CatchAllStrategy, routers ...types.Router) *Collection {
	c := &Collection{name: name, config: config, catchAll: catchAll}
	for _, r := range routers {
		if r == nil {
			continue
		}
		if aware, ok := r.(CatchAllAware); ok {
			aware.SetCatchAll(catchAll)
		}
		c.routers = append(c.routers, r)
	}
	return c
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) Routers() []types.Router {
	return c.routers
}

func (c *Collection) CatchAll() types.CatchAllStrategy {
	return c.catchAll
}

// Process routes the event through the first matching router.
func (c *Collection) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	for _, r := range c.routers {
		ok, err := c.match(ctx, r, event)
		if err != nil {
			c.config.Printf("collection %s router %s match error: %v", c.name, Name(r), err)
			continue
		}
		if !ok {
			continue
		}
		result, err := c.route(ctx, r, event)
		if err != nil {
			c.config.Notify(types.NotificationRoutingFailed, event.FlowName(), Name(r), event, err)
			failed := result
			if failed == nil {
				failed = event
			}
			if failed.Exception() == nil {
				failed = failed.WithException(types.NewExceptionPayload(types.KindRoutingFailed, err))
			}
			return failed, fmt.Errorf("router %s: %w", Name(r), err)
		}
		return result, nil
	}
	if c.catchAll != nil {
		return c.catchAll.Catch(ctx, event)
	}
	c.config.Notify(types.NotificationRouteNotFound, event.FlowName(), c.name, event, nil)
	return nil, nil
}

func (c *Collection) match(ctx context.Context, r types.Router, event *types.Event) (ok bool, err error) {
	defer func() {
		if e := recover(); e != nil {
			ok, err = false, fmt.Errorf("match panic: %v", e)
		}
	}()
	return r.IsMatch(ctx, event)
}

func (c *Collection) route(ctx context.Context, r types.Router, event *types.Event) (result *types.Event, err error) {
	defer func() {
		if e := recover(); e != nil {
			result, err = nil, fmt.Errorf("route panic: %v", e)
		}
	}()
	return r.Route(ctx, event)
}

// Destroy destroys the routers that hold resources.
func (c *Collection) Destroy() {
	for _, r := range c.routers {
		if d, ok := r.(interface{ Destroy() }); ok {
			d.Destroy()
		}
	}
}

// Name returns the component type of a router, or its Go type.
func Name(r interface{}) string {
	if c, ok := r.(interface{ Type() string }); ok {
		return c.Type()
	}
	return fmt.Sprintf("%T", r)
}
