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

package types

import (
	"math"
	"time"

	"github.com/rulego/flowmesh/utils/pool"
)

// Config is the configuration shared by the flows of one runtime.
type Config struct {
	// Logger is the logging interface, defaulting to `DefaultLogger()`.
	Logger Logger
	// Pool runs asynchronous work such as wire taps and parallel routing.
	// If not configured, the go func method is used.
	Pool Pool
	// IdempotentStore backs the idempotent receivers.
	IdempotentStore IdempotentStore
	// Resolver resolves target addresses used by outbound routers.
	Resolver EndpointResolver
	// Notifier receives out-of-band notifications.
	Notifier Notifier
	// Aspects are applied to every flow of the runtime.
	Aspects AspectList
	// Properties are global properties. Expressions can read them via `global.key`,
	// templates via ${global.key}.
	Properties map[string]string
	// ScriptMaxExecutionTime is the maximum execution time for scripts, defaulting to 2000 milliseconds.
	ScriptMaxExecutionTime time.Duration
	// Udf registers functions callable from expressions and scripts.
	Udf map[string]interface{}
}

// RegisterUdf registers a function callable from expressions and scripts.
func (c *Config) RegisterUdf(name string, value interface{}) {
	if c.Udf == nil {
		c.Udf = make(map[string]interface{})
	}
	c.Udf[name] = value
}

// NewConfig creates a new Config with default values and applies the provided options.
func NewConfig(opts ...Option) Config {
	c := &Config{
		ScriptMaxExecutionTime: time.Millisecond * 2000,
		Logger:                 DefaultLogger(),
		Properties:             make(map[string]string),
	}
	for _, opt := range opts {
		_ = opt(c)
	}
	return *c
}

// Go runs task on the pool, falling back to a new goroutine.
func (c Config) Go(task func()) {
	if c.Pool != nil {
		if err := c.Pool.Submit(task); err == nil {
			return
		}
	}
	go task()
}

// DefaultPool provides a default goroutine pool.
func DefaultPool() Pool {
	wp := &pool.WorkerPool{MaxWorkersCount: math.MaxInt32}
	wp.Start()
	return wp
}
