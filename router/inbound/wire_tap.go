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
	"errors"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/router"
	"github.com/rulego/flowmesh/utils/maps"
)

func init() {
	Registry.Add(&WireTap{})
}

// WireTapConfiguration 窃听器配置
type WireTapConfiguration struct {
	// Target is the address receiving the copies.
	Target string
	// Condition optionally restricts which events are copied.
	Condition string
	// Timeout bounds the tap target call.
	Timeout time.Duration
}

// WireTap sends a copy of every event to a side target on the pool and always
// returns the original. Tap failures are logged and never reach the main path.
type WireTap struct {
	Config    WireTapConfiguration
	config    types.Config
	targets   router.TargetConfig
	predicate *base.Predicate
}

func (x *WireTap) Type() string {
	return "wireTap"
}

func (x *WireTap) New() types.Component {
	return &WireTap{}
}

func (x *WireTap) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Target == "" {
		return errors.New("wire tap target is required")
	}
	if x.Config.Condition != "" {
		p, err := base.NewPredicate(ruleConfig, x.Config.Condition)
		if err != nil {
			return err
		}
		x.predicate = p
	}
	x.config = ruleConfig
	x.targets = router.TargetConfig{Targets: []string{x.Config.Target}, Timeout: x.Config.Timeout}
	return nil
}

func (x *WireTap) IsMatch(ctx context.Context, event *types.Event) (bool, error) {
	return true, nil
}

func (x *WireTap) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	if x.predicate != nil {
		if ok, err := x.predicate.Test(event); err != nil || !ok {
			return event, nil
		}
	}
	tapped := event.Copy()
	detached := context.WithoutCancel(ctx)
	x.config.Go(func() {
		defer func() {
			if e := recover(); e != nil {
				x.config.Printf("wire tap %s panic recovered: %v", x.Config.Target, e)
			}
		}()
		if err := x.tap(detached, tapped); err != nil {
			x.config.Printf("wire tap %s error: %v", x.Config.Target, err)
			x.config.Notify(types.NotificationRoutingFailed, flowOf(tapped, x.Type()), x.Type(), tapped, err)
		}
	})
	return event, nil
}

func (x *WireTap) tap(ctx context.Context, event *types.Event) error {
	t, err := x.targets.Resolve(x.config, x.Config.Target)
	if err != nil {
		return err
	}
	_, err = t.Invoke(ctx, event)
	return err
}

func (x *WireTap) Destroy() {
}
