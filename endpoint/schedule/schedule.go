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

// Package schedule emits events into a flow on a cron schedule.
// Expressions have a seconds field:
//
//	Field name   | Mandatory? | Allowed values  | Allowed special characters
//	----------   | ---------- | --------------  | --------------------------
//	Seconds      | Yes        | 0-59            | * / , -
//	Minutes      | Yes        | 0-59            | * / , -
//	Hours        | Yes        | 0-23            | * / , -
//	Day of month | Yes        | 1-31            | * / , - ?
//	Month        | Yes        | 1-12 or JAN-DEC | * / , -
//	Day of week  | Yes        | 0-6 or SUN-SAT  | * / , - ?
//
// 内置一些特殊表达式：@yearly, @monthly, @weekly, @daily, @hourly, @every <duration>
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/robfig/cron/v3"
	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/endpoint"
)

// Inbound properties set on every scheduled event.
const (
	PropertyScheduleId = "scheduleId"
	PropertyFireTime   = "fireTime"
	PropertyFireCount  = "fireCount"
)

var ErrAlreadyStarted = errors.New("schedule already started")

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config 定时任务配置
type Config struct {
	// Cron expression with seconds, e.g. "*/5 * * * * *".
	Cron string `json:"cron" yaml:"cron"`
	// Payload 每次触发的消息内容
	Payload string `json:"payload" yaml:"payload"`
	// MediaType of Payload, text/plain by default.
	MediaType string `json:"mediaType" yaml:"mediaType"`
}

// Schedule is a types.Source firing one event per cron tick.
// Ticks that find the flow busy are dropped and logged.
type Schedule struct {
	Config Config
	config types.Config
	id     string
	cron   *cron.Cron
	sink   types.EventSink
	fired  int64
	mu     sync.Mutex
}

// New validates the cron expression and creates a stopped schedule.
func New(config types.Config, conf Config) (*Schedule, error) {
	if _, err := parser.Parse(conf.Cron); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", conf.Cron, err)
	}
	uuId, _ := uuid.NewV4()
	return &Schedule{Config: conf, config: config, id: uuId.String()}, nil
}

func (s *Schedule) Id() string {
	return s.id
}

// Fired returns the number of ticks so far.
func (s *Schedule) Fired() int64 {
	return atomic.LoadInt64(&s.fired)
}

func (s *Schedule) Start(sink types.EventSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(s.Config.Cron, s.Trigger); err != nil {
		return err
	}
	s.sink = sink
	s.cron = c
	c.Start()
	return nil
}

// Stop stops the cron and waits for a running tick to return.
func (s *Schedule) Stop() error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	return nil
}

// Trigger emits one event now.
func (s *Schedule) Trigger() {
	defer func() {
		//捕捉异常
		if e := recover(); e != nil {
			s.config.Printf("schedule %s handler err :%v", s.id, e)
		}
	}()
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}
	n := atomic.AddInt64(&s.fired, 1)
	event := endpoint.NewEvent([]byte(s.Config.Payload), s.Config.MediaType, map[string]any{
		PropertyScheduleId: s.id,
		PropertyFireTime:   time.Now().UnixMilli(),
		PropertyFireCount:  n,
	})
	name := "schedule " + s.id
	if err := sink.Dispatch(context.Background(), event, endpoint.LogFailure(s.config, name)); err != nil {
		s.config.Printf("%s: flow %s rejected tick %d: %v", name, sink.Name(), n, err)
	}
}
