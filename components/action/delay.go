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

package action

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/utils/cast"
	"github.com/rulego/flowmesh/utils/el"
	"github.com/rulego/flowmesh/utils/maps"
)

// ErrTooManyPending is returned when MaxPending events are already delayed.
var ErrTooManyPending = errors.New("too many pending delayed events")

func init() {
	Registry.Add(&Delay{})
}

// DelayConfiguration 节点配置
type DelayConfiguration struct {
	// Period 延迟时间
	Period time.Duration
	// PeriodPattern 延迟时间模板，优先于 Period，例如 ${inbound.delay}
	// The result is a duration string or integer milliseconds.
	PeriodPattern string
	// MaxPending 最大挂起事件数
	MaxPending int
}

// Delay holds each event for a period before passing it on.
// As an AsyncProcessor it does not occupy an event loop while waiting.
type Delay struct {
	Config  DelayConfiguration
	config  types.Config
	pattern el.Template
	pending int64
}

func (x *Delay) Type() string {
	return "delay"
}

func (x *Delay) New() types.Component {
	return &Delay{Config: DelayConfiguration{Period: time.Second, MaxPending: 1000}}
}

func (x *Delay) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.MaxPending <= 0 {
		x.Config.MaxPending = 1000
	}
	if x.Config.PeriodPattern != "" {
		tmpl, err := el.NewTemplate(x.Config.PeriodPattern)
		if err != nil {
			return err
		}
		x.pattern = tmpl
	}
	x.config = ruleConfig
	return nil
}

// PeriodOf returns the delay of event.
func (x *Delay) PeriodOf(event *types.Event) (time.Duration, error) {
	if x.pattern == nil {
		return x.Config.Period, nil
	}
	out, err := x.pattern.Execute(base.NodeUtils.GetEnv(x.config, event))
	if err != nil {
		return 0, err
	}
	d, err := cast.ToDurationE(out)
	if err != nil {
		return 0, fmt.Errorf("delay period: %w", err)
	}
	return d, nil
}

func (x *Delay) reserve() bool {
	if atomic.AddInt64(&x.pending, 1) > int64(x.Config.MaxPending) {
		atomic.AddInt64(&x.pending, -1)
		return false
	}
	return true
}

// Pending returns the number of events being delayed.
func (x *Delay) Pending() int {
	return int(atomic.LoadInt64(&x.pending))
}

func (x *Delay) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	period, err := x.PeriodOf(event)
	if err != nil {
		return event, err
	}
	if !x.reserve() {
		return event, ErrTooManyPending
	}
	defer atomic.AddInt64(&x.pending, -1)
	timer := time.NewTimer(period)
	defer timer.Stop()
	select {
	case <-timer.C:
		return event, nil
	case <-ctx.Done():
		return event, ctx.Err()
	}
}

// ProcessAsync calls callback once the period has elapsed, or with the context
// error when ctx is done first. It returns at once.
func (x *Delay) ProcessAsync(ctx context.Context, event *types.Event, callback func(*types.Event, error)) {
	period, err := x.PeriodOf(event)
	if err != nil {
		callback(event, err)
		return
	}
	if !x.reserve() {
		callback(event, ErrTooManyPending)
		return
	}
	go func() {
		timer := time.NewTimer(period)
		defer timer.Stop()
		var err error
		select {
		case <-timer.C:
		case <-ctx.Done():
			err = ctx.Err()
		}
		atomic.AddInt64(&x.pending, -1)
		callback(event, err)
	}()
}

func (x *Delay) Destroy() {
}
