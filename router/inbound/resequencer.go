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
	"github.com/rulego/flowmesh/router"
	"github.com/rulego/flowmesh/router/correlation"
	"github.com/rulego/flowmesh/utils/maps"
)

func init() {
	Registry.Add(&CorrelationResequencer{})
}

// ResequencerConfiguration 重排序器配置
type ResequencerConfiguration struct {
	// Target receives the events in sequence order.
	Target string
	// Timeout is how long a gap may stay open after the last progress of a group.
	// When it elapses the buffered events are emitted in order, gaps skipped.
	Timeout time.Duration
	// MaxGroups bounds the open groups. 0 means unbounded.
	MaxGroups int
	// Retention is how long a released correlation id refuses late members,
	// correlation.DefaultRetention by default.
	Retention time.Duration
}

// CorrelationResequencer reorders the events of a correlation group by sequence
// number. Each arrival releases the longest contiguous run starting at the next
// expected sequence to Target, so events are never emitted out of order.
// Arriving events are absorbed by the calling chain.
type CorrelationResequencer struct {
	Config ResequencerConfiguration
	config types.Config
	target router.TargetConfig
	arena  *correlation.Arena
}

func (x *CorrelationResequencer) Type() string {
	return "correlationResequencer"
}

func (x *CorrelationResequencer) New() types.Component {
	return &CorrelationResequencer{}
}

func (x *CorrelationResequencer) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Target == "" {
		return errors.New("resequencer target is required")
	}
	x.config = ruleConfig
	x.target = router.TargetConfig{Targets: []string{x.Config.Target}}
	x.arena = correlation.NewArena(x.Config.Timeout, x.Config.MaxGroups, x.expire).SetRetention(x.Config.Retention)
	return nil
}

// IsMatch accepts events carrying a correlation id and a sequence number.
// A group of unknown size is only accepted with a Timeout, which is then the
// only way the group can end.
func (x *CorrelationResequencer) IsMatch(ctx context.Context, event *types.Event) (bool, error) {
	corr := event.Correlation()
	if corr.Id == "" || corr.Sequence <= 0 {
		return false, nil
	}
	return corr.GroupSize > 0 || x.Config.Timeout > 0, nil
}

func (x *CorrelationResequencer) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	err := x.arena.With(event.CorrelationId(), func(g *correlation.Group) bool {
		if !g.Add(event) {
			x.config.Printf("%s: dropped repeated sequence %d of group %s", x.Type(), event.Correlation().Sequence, g.Key)
			return false
		}
		// emitting under the group lock keeps the order across concurrent arrivals
		released := g.Next()
		if len(released) > 0 {
			x.emit(ctx, released)
			g.Touch(x.Config.Timeout)
		}
		return g.Released()
	})
	if errors.Is(err, correlation.ErrGroupClosed) {
		dropLate(x.config, x.Type(), event)
		return nil, nil
	}
	if err != nil {
		return event, err
	}
	return nil, nil
}

func (x *CorrelationResequencer) emit(ctx context.Context, events []*types.Event) {
	t, err := x.target.Resolve(x.config, x.Config.Target)
	if err != nil {
		x.config.Printf("%s: resolve %s error: %v", x.Type(), x.Config.Target, err)
		for _, e := range events {
			x.config.Notify(types.NotificationRoutingFailed, flowOf(e, x.Type()), x.Type(), e, err)
		}
		return
	}
	for _, e := range events {
		if _, err := t.Invoke(ctx, e); err != nil {
			x.config.Printf("%s: emit sequence %d of group %s error: %v", x.Type(), e.Correlation().Sequence, e.CorrelationId(), err)
			x.config.Notify(types.NotificationRoutingFailed, flowOf(e, x.Type()), x.Type(), e, err)
		}
	}
}

// expire emits what is buffered in order, skipping the gaps.
func (x *CorrelationResequencer) expire(g *correlation.Group) {
	events := g.Drain()
	if len(events) == 0 {
		return
	}
	x.config.Printf("%s: group %s gap timed out, emitting %d buffered events", x.Type(), g.Key, len(events))
	x.config.Notify(types.NotificationGroupExpired, flowOf(events[0], x.Type()), x.Type(), events[0], nil)
	x.emit(context.Background(), events)
}

// OpenGroups returns the number of groups with unreleased members.
func (x *CorrelationResequencer) OpenGroups() int {
	if x.arena == nil {
		return 0
	}
	return x.arena.Len()
}

func (x *CorrelationResequencer) Destroy() {
	if x.arena == nil {
		return
	}
	for _, g := range x.arena.Close() {
		x.expire(g)
	}
}
