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
	"time"
)

// Option is a function type that modifies the Config.
type Option func(*Config) error

// WithPool is an option that sets the pool of the Config.
func WithPool(pool Pool) Option {
	return func(c *Config) error {
		c.Pool = pool
		return nil
	}
}

// WithDefaultPool is an option that sets an unbounded worker pool.
func WithDefaultPool() Option {
	return func(c *Config) error {
		c.Pool = DefaultPool()
		return nil
	}
}

// WithLogger is an option that sets the logger of the Config.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithIdempotentStore is an option that sets the store used by idempotent receivers.
func WithIdempotentStore(store IdempotentStore) Option {
	return func(c *Config) error {
		c.IdempotentStore = store
		return nil
	}
}

// WithResolver is an option that sets the endpoint resolver.
func WithResolver(resolver EndpointResolver) Option {
	return func(c *Config) error {
		c.Resolver = resolver
		return nil
	}
}

// WithNotifier is an option that sets the notification listener.
func WithNotifier(notifier Notifier) Option {
	return func(c *Config) error {
		c.Notifier = notifier
		return nil
	}
}

// WithAspects is an option that appends flow aspects.
func WithAspects(aspects ...Aspect) Option {
	return func(c *Config) error {
		c.Aspects = append(c.Aspects, aspects...)
		return nil
	}
}

// WithProperties is an option that merges global properties.
func WithProperties(properties map[string]string) Option {
	return func(c *Config) error {
		if c.Properties == nil {
			c.Properties = make(map[string]string)
		}
		for k, v := range properties {
			c.Properties[k] = v
		}
		return nil
	}
}

// WithScriptMaxExecutionTime is an option that sets the js max execution time of the Config.
func WithScriptMaxExecutionTime(scriptMaxExecutionTime time.Duration) Option {
	return func(c *Config) error {
		c.ScriptMaxExecutionTime = scriptMaxExecutionTime
		return nil
	}
}
