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
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/router"
	"github.com/rulego/flowmesh/router/correlation"
	"github.com/rulego/flowmesh/utils/cast"
	"github.com/rulego/flowmesh/utils/maps"
)

// Timeout policies of aggregating routers.
const (
	// TimeoutEmit sends the partial group to TimeoutTarget.
	TimeoutEmit = "emit"
	// TimeoutCatchAll hands the partial group to the catch-all of the collection.
	TimeoutCatchAll = "catchAll"
)

// PropertyPartial is set in the invocation scope of an aggregate built from an expired group.
const PropertyPartial = "partial"

func init() {
	Registry.Add(&CorrelationAggregator{}, &ChunkingAggregator{})
}

// AggregatorConfiguration 聚合器配置
type AggregatorConfiguration struct {
	// Timeout is the group deadline from its first arrival. 0 waits forever.
	Timeout time.Duration
	// TimeoutPolicy is emit (default) or catchAll.
	TimeoutPolicy string
	// TimeoutTarget receives partial groups under the emit policy.
	TimeoutTarget string
	// MaxGroups bounds the open groups. 0 means unbounded.
	MaxGroups int
	// Retention is how long a completed or expired correlation id refuses
	// late members, correlation.DefaultRetention by default.
	Retention time.Duration
}

// CorrelationAggregator collects the members of a correlation group and emits
// one event whose payload lists the member payloads in sequence order.
// Members are absorbed until the group is complete; the member that completes
// it carries the aggregate down the chain.
type CorrelationAggregator struct {
	Config   AggregatorConfiguration
	config   types.Config
	arena    *correlation.Arena
	catchAll types.CatchAllStrategy
	merge    func(payloads []interface{}) (interface{}, error)
	name     string
}

func (x *CorrelationAggregator) Type() string {
	return "correlationAggregator"
}

func (x *CorrelationAggregator) New() types.Component {
	return &CorrelationAggregator{Config: AggregatorConfiguration{TimeoutPolicy: TimeoutEmit}}
}

func (x *CorrelationAggregator) Init(ruleConfig types.Config, configuration types.Configuration) error {
	return x.init(ruleConfig, configuration, x.Type(), nil)
}

func (x *CorrelationAggregator) init(ruleConfig types.Config, configuration types.Configuration, name string,
	merge func([]interface{}) (interface{}, error)) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	switch x.Config.TimeoutPolicy {
	case "", TimeoutEmit, TimeoutCatchAll:
	default:
		return fmt.Errorf("unknown timeout policy %q", x.Config.TimeoutPolicy)
	}
	x.config = ruleConfig
	x.name = name
	x.merge = merge
	x.arena = correlation.NewArena(x.Config.Timeout, x.Config.MaxGroups, x.expire).SetRetention(x.Config.Retention)
	return nil
}

func (x *CorrelationAggregator) SetCatchAll(catchAll types.CatchAllStrategy) {
	x.catchAll = catchAll
}

// IsMatch accepts events that belong to a correlation group of known size.
func (x *CorrelationAggregator) IsMatch(ctx context.Context, event *types.Event) (bool, error) {
	corr := event.Correlation()
	return corr.Id != "" && corr.GroupSize > 0, nil
}

func (x *CorrelationAggregator) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	var members []*types.Event
	err := x.arena.With(event.CorrelationId(), func(g *correlation.Group) bool {
		if !g.Add(event) {
			x.config.Printf("%s: dropped repeated sequence %d of group %s", x.name, event.Correlation().Sequence, g.Key)
			return false
		}
		if g.Complete() {
			members = g.Events()
			return true
		}
		return false
	})
	if errors.Is(err, correlation.ErrGroupClosed) {
		dropLate(x.config, x.name, event)
		return nil, nil
	}
	if err != nil {
		return event, err
	}
	if members == nil {
		return nil, nil
	}
	return x.aggregate(members), nil
}

// aggregate merges the member payloads. A member set that cannot be merged is
// emitted as the plain list of payloads.
func (x *CorrelationAggregator) aggregate(members []*types.Event) *types.Event {
	payloads := make([]interface{}, len(members))
	for i, m := range members {
		payloads[i] = m.Payload()
	}
	var merged interface{} = payloads
	if x.merge != nil {
		if v, err := x.merge(payloads); err != nil {
			x.config.Printf("%s: merge group %s error: %v", x.name, members[0].CorrelationId(), err)
		} else {
			merged = v
		}
	}
	first := members[0]
	msg := first.Message().WithPayload(types.Payload{Value: merged, MediaType: first.Message().Payload().MediaType})
	return first.WithMessage(msg)
}

// expire handles a group whose deadline fired. The partial aggregate is never
// lost silently: it is emitted, handed to the catch-all, or at least reported.
func (x *CorrelationAggregator) expire(g *correlation.Group) {
	members := g.Events()
	if len(members) == 0 {
		return
	}
	partial := x.aggregate(members).WithProperty(types.InvocationScope, PropertyPartial, true)
	x.config.Printf("%s: group %s expired with %d of %d members", x.name, g.Key, len(members), g.Size)
	x.config.Notify(types.NotificationGroupExpired, flowOf(partial, x.name), x.name, partial, nil)

	ctx := context.Background()
	switch {
	case x.Config.TimeoutPolicy == TimeoutCatchAll && x.catchAll != nil:
		if _, err := x.catchAll.Catch(ctx, partial); err != nil {
			x.config.Printf("%s: catch-all for group %s error: %v", x.name, g.Key, err)
		}
	case x.Config.TimeoutPolicy != TimeoutCatchAll && x.Config.TimeoutTarget != "":
		targets := router.TargetConfig{}
		t, err := targets.Resolve(x.config, x.Config.TimeoutTarget)
		if err == nil {
			_, err = t.Invoke(ctx, partial)
		}
		if err != nil {
			x.config.Printf("%s: emit group %s to %s error: %v", x.name, g.Key, x.Config.TimeoutTarget, err)
			x.config.Notify(types.NotificationRoutingFailed, flowOf(partial, x.name), x.name, partial, err)
		}
	}
}

// OpenGroups returns the number of groups waiting for members.
func (x *CorrelationAggregator) OpenGroups() int {
	if x.arena == nil {
		return 0
	}
	return x.arena.Len()
}

// Destroy flushes the open groups as if they had expired.
func (x *CorrelationAggregator) Destroy() {
	if x.arena == nil {
		return
	}
	for _, g := range x.arena.Close() {
		x.expire(g)
	}
}

// ChunkingAggregator reassembles the chunks produced by the message chunking
// router. Chunks are joined in sequence order: strings are concatenated, byte
// slices are concatenated, slices of one type are appended into a slice of that type.
type ChunkingAggregator struct {
	CorrelationAggregator
}

func (x *ChunkingAggregator) Type() string {
	return "chunkingAggregator"
}

func (x *ChunkingAggregator) New() types.Component {
	return &ChunkingAggregator{CorrelationAggregator: CorrelationAggregator{Config: AggregatorConfiguration{TimeoutPolicy: TimeoutEmit}}}
}

func (x *ChunkingAggregator) Init(ruleConfig types.Config, configuration types.Configuration) error {
	return x.init(ruleConfig, configuration, x.Type(), Reassemble)
}

// Reassemble joins chunk payloads in order.
func Reassemble(chunks []interface{}) (interface{}, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	switch chunks[0].(type) {
	case string:
		var b strings.Builder
		for i, c := range chunks {
			s, ok := c.(string)
			if !ok {
				return nil, fmt.Errorf("chunk %d is %T, expected string", i, c)
			}
			b.WriteString(s)
		}
		return b.String(), nil
	case []byte:
		var b bytes.Buffer
		for i, c := range chunks {
			p, ok := c.([]byte)
			if !ok {
				return nil, fmt.Errorf("chunk %d is %T, expected []byte", i, c)
			}
			b.Write(p)
		}
		return b.Bytes(), nil
	}
	first := reflect.ValueOf(chunks[0])
	if first.Kind() == reflect.Slice {
		out := reflect.MakeSlice(first.Type(), 0, first.Len()*len(chunks))
		for i, c := range chunks {
			v := reflect.ValueOf(c)
			if !v.IsValid() || v.Type() != first.Type() {
				return nil, fmt.Errorf("chunk %d is %T, expected %s", i, c, first.Type())
			}
			out = reflect.AppendSlice(out, v)
		}
		return out.Interface(), nil
	}
	// mixed chunks are flattened into one list
	var out []interface{}
	for _, c := range chunks {
		if items, ok := cast.ToSlice(c); ok {
			out = append(out, items...)
		} else {
			out = append(out, c)
		}
	}
	return out, nil
}

// dropLate reports a member whose group already completed or expired.
func dropLate(config types.Config, name string, event *types.Event) {
	corr := event.Correlation()
	config.Printf("%s: dropped late sequence %d of closed group %s", name, corr.Sequence, corr.Id)
	config.Notify(types.NotificationLateMember, flowOf(event, name), name, event, correlation.ErrGroupClosed)
}
