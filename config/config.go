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

// Package config loads runtime settings and flow definitions from YAML or JSON
// files and turns them into a running engine.Runtime.
//
// Example:
//
//	properties:
//	  apiToken: s3cret
//	scriptMaxExecutionTime: 1s
//	workers: 256
//	idempotent:
//	  driverName: sqlite
//	  dsn: /var/lib/flowmesh/keys.db
//	aspects:
//	  debug: true
//	flows:
//	  - name: orders
//	    strategy: queued
//	    strategyOptions:
//	      workers: 8
//	    filter:
//	      type: exprFilter
//	      configuration:
//	        expr: payload.amount > 0
//	    stages:
//	      - processor:
//	          type: exprTransform
//	          configuration:
//	            expr: upper(payload.id)
//	    source:
//	      type: rest
//	      rest:
//	        server: :9090
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/builtin/aspect"
	mqttsource "github.com/rulego/flowmesh/endpoint/mqtt"
	"github.com/rulego/flowmesh/endpoint/rest"
	"github.com/rulego/flowmesh/endpoint/schedule"
	"github.com/rulego/flowmesh/engine"
	"github.com/rulego/flowmesh/store/sqlstore"
	"github.com/rulego/flowmesh/utils/pool"
	"gopkg.in/yaml.v3"
)

// Source types.
const (
	SourceRest     = "rest"
	SourceSchedule = "schedule"
	SourceMqtt     = "mqtt"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the content of a settings file.
type Settings struct {
	// Properties are global properties, read as `global.key`.
	Properties map[string]string `yaml:"properties"`
	// ScriptMaxExecutionTime bounds each script call.
	ScriptMaxExecutionTime time.Duration `yaml:"scriptMaxExecutionTime"`
	// Workers sizes the shared worker pool. 0 runs asynchronous work on new goroutines.
	Workers int `yaml:"workers"`
	// Idempotent selects the SQL idempotent store. Empty keeps the in-memory store.
	Idempotent *sqlstore.Config `yaml:"idempotent"`
	Aspects    AspectSettings   `yaml:"aspects"`
	Flows      []FlowSettings   `yaml:"flows"`
}

// AspectSettings enables the built-in aspects for every flow.
type AspectSettings struct {
	// MaxConcurrency bounds the events in flight across all flows. 0 disables the limiter.
	MaxConcurrency int  `yaml:"maxConcurrency"`
	Debug          bool `yaml:"debug"`
	// Metrics and Tracing use the global OpenTelemetry providers.
	Metrics bool `yaml:"metrics"`
	Tracing bool `yaml:"tracing"`
}

// FlowSettings is a flow definition with its optional source.
type FlowSettings struct {
	engine.FlowDef `yaml:",inline"`
	Source         *SourceSettings `yaml:"source"`
}

// SourceSettings 事件源配置
type SourceSettings struct {
	// Type is rest, schedule or mqtt.
	Type     string             `yaml:"type"`
	Rest     *rest.Config       `yaml:"rest"`
	Schedule *schedule.Config   `yaml:"schedule"`
	Mqtt     *mqttsource.Config `yaml:"mqtt"`
}

// FromFile loads settings, choosing the format by extension: .yaml, .yml or .json.
func FromFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json":
		// JSON is valid YAML
		return Parse(data)
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// Parse decodes and validates settings.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks flow names and sources. Components are checked when deployed.
func (s *Settings) Validate() error {
	seen := make(map[string]bool, len(s.Flows))
	for i, f := range s.Flows {
		if f.Name == "" {
			return fmt.Errorf("%w: flow %d has no name", ErrInvalidSettings, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate flow %s", ErrInvalidSettings, f.Name)
		}
		seen[f.Name] = true
		if src := f.Source; src != nil {
			switch src.Type {
			case SourceRest:
			case SourceSchedule:
				if src.Schedule == nil {
					return fmt.Errorf("%w: flow %s schedule source without schedule settings", ErrInvalidSettings, f.Name)
				}
			case SourceMqtt:
				if src.Mqtt == nil {
					return fmt.Errorf("%w: flow %s mqtt source without mqtt settings", ErrInvalidSettings, f.Name)
				}
			default:
				return fmt.Errorf("%w: flow %s unknown source type %q", ErrInvalidSettings, f.Name, src.Type)
			}
		}
	}
	if s.Workers < 0 || s.Aspects.MaxConcurrency < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidSettings)
	}
	return nil
}

// Options converts the runtime settings into config options. The returned
// closers release the worker pool and the SQL store and must be closed after
// the runtime has stopped.
func (s *Settings) Options(ctx context.Context, logger types.Logger) ([]types.Option, []io.Closer, error) {
	var opts []types.Option
	var closers []io.Closer
	if logger != nil {
		opts = append(opts, types.WithLogger(logger))
	}
	if len(s.Properties) != 0 {
		opts = append(opts, types.WithProperties(s.Properties))
	}
	if s.ScriptMaxExecutionTime > 0 {
		opts = append(opts, types.WithScriptMaxExecutionTime(s.ScriptMaxExecutionTime))
	}
	if s.Workers > 0 {
		wp := &pool.WorkerPool{MaxWorkersCount: s.Workers}
		wp.Start()
		opts = append(opts, types.WithPool(wp))
		closers = append(closers, closerFunc(func() error {
			wp.Stop()
			return nil
		}))
	}
	if s.Idempotent != nil {
		store, err := sqlstore.Open(ctx, *s.Idempotent)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		opts = append(opts, types.WithIdempotentStore(store))
		closers = append(closers, store)
	}
	aspects, err := s.Aspects.build(logger)
	if err != nil {
		closeAll(closers)
		return nil, nil, err
	}
	if len(aspects) != 0 {
		opts = append(opts, types.WithAspects(aspects...))
	}
	return opts, closers, nil
}

func (a AspectSettings) build(logger types.Logger) ([]types.Aspect, error) {
	var aspects []types.Aspect
	if a.MaxConcurrency > 0 {
		aspects = append(aspects, aspect.NewConcurrencyLimiterAspect(a.MaxConcurrency))
	}
	if a.Metrics {
		m, err := aspect.NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		aspects = append(aspects, m)
	}
	if a.Tracing {
		aspects = append(aspects, aspect.NewTracing(nil))
	}
	if a.Debug {
		aspects = append(aspects, &aspect.Debug{Logger: logger})
	}
	return aspects, nil
}

// NewSource creates the source of a flow, nil when the flow has none.
func (f FlowSettings) NewSource(config types.Config) (types.Source, error) {
	if f.Source == nil {
		return nil, nil
	}
	switch f.Source.Type {
	case SourceRest:
		var conf rest.Config
		if f.Source.Rest != nil {
			conf = *f.Source.Rest
		}
		return rest.New(config, conf), nil
	case SourceSchedule:
		if f.Source.Schedule == nil {
			return nil, fmt.Errorf("%w: flow %s schedule source without schedule settings", ErrInvalidSettings, f.Name)
		}
		sched, err := schedule.New(config, *f.Source.Schedule)
		if err != nil {
			return nil, err
		}
		return sched, nil
	case SourceMqtt:
		if f.Source.Mqtt == nil {
			return nil, fmt.Errorf("%w: flow %s mqtt source without mqtt settings", ErrInvalidSettings, f.Name)
		}
		src, err := mqttsource.New(config, *f.Source.Mqtt)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("%w: flow %s unknown source type %q", ErrInvalidSettings, f.Name, f.Source.Type)
	}
}

// Deploy deploys every flow of s into rt and returns the sources by flow name.
// Flows are not started. On error the flows deployed so far are removed.
func (s *Settings) Deploy(ctx context.Context, rt *engine.Runtime) ([]*engine.Flow, map[string]types.Source, error) {
	flows := make([]*engine.Flow, 0, len(s.Flows))
	sources := make(map[string]types.Source)
	for _, fs := range s.Flows {
		source, err := fs.NewSource(rt.Config())
		if err == nil {
			var flow *engine.Flow
			if flow, err = rt.Deploy(fs.FlowDef, source); err == nil {
				flows = append(flows, flow)
				if source != nil {
					sources[fs.Name] = source
				}
				continue
			}
		}
		for _, f := range flows {
			_ = rt.Remove(ctx, f.Name())
		}
		return nil, nil, err
	}
	return flows, sources, nil
}

// Bootstrap is a runtime built from settings.
type Bootstrap struct {
	Runtime *engine.Runtime
	Flows   []*engine.Flow
	// Sources 按流名称索引的事件源
	Sources map[string]types.Source
	closers []io.Closer
}

// Load builds a runtime from s and deploys its flows. Call Start to start them.
func Load(ctx context.Context, s *Settings, logger types.Logger, opts ...types.Option) (*Bootstrap, error) {
	base, closers, err := s.Options(ctx, logger)
	if err != nil {
		return nil, err
	}
	rt := engine.NewRuntime(append(base, opts...)...)
	flows, sources, err := s.Deploy(ctx, rt)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	return &Bootstrap{Runtime: rt, Flows: flows, Sources: sources, closers: closers}, nil
}

func (b *Bootstrap) Start() error {
	return b.Runtime.StartAll()
}

// Stop stops every flow, then releases the pool and the store.
func (b *Bootstrap) Stop(ctx context.Context) error {
	err := b.Runtime.StopAll(ctx)
	closeAll(b.closers)
	b.closers = nil
	return err
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i].Close()
	}
}
