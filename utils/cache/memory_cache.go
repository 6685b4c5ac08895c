/*
 * Copyright 2025 The RuleGo Authors.
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

// Package cache provides the in-memory cache and the idempotent stores built on it.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/rulego/flowmesh/api/types"
)

var _ types.Cache = (*MemoryCache)(nil)

// MemoryCache is an in-memory types.Cache. Expired items are removed by a
// background sweep that runs only while expirable items exist.
type MemoryCache struct {
	items      map[string]item
	mu         sync.RWMutex
	stopGc     chan struct{}
	ticker     *time.Ticker
	gcInterval time.Duration
}

type item struct {
	value      interface{}
	expiration int64
}

func (it item) expired(now int64) bool {
	return it.expiration > 0 && now > it.expiration
}

// NewMemoryCache creates a cache sweeping expired items every gcInterval, 5 minutes by default.
func NewMemoryCache(gcInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		items:      make(map[string]item),
		stopGc:     make(chan struct{}),
		gcInterval: time.Minute * 5,
	}
	if gcInterval > 0 {
		c.gcInterval = gcInterval
	}
	return c
}

func parseExpiration(ttl string) (int64, error) {
	if ttl == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttl)
	if err != nil {
		return 0, err
	}
	if dur <= 0 {
		return 0, nil
	}
	return time.Now().Add(dur).UnixNano(), nil
}

func (c *MemoryCache) Set(key string, value interface{}, ttl string) error {
	expiration, err := parseExpiration(ttl)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items[key] = item{value: value, expiration: expiration}
	shouldStartGC := expiration > 0 && c.ticker == nil
	c.mu.Unlock()

	if shouldStartGC {
		c.StartGC()
	}
	return nil
}

func (c *MemoryCache) SetIfAbsent(key string, value interface{}, ttl string) (bool, error) {
	expiration, err := parseExpiration(ttl)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	if it, found := c.items[key]; found && !it.expired(time.Now().UnixNano()) {
		c.mu.Unlock()
		return false, nil
	}
	c.items[key] = item{value: value, expiration: expiration}
	shouldStartGC := expiration > 0 && c.ticker == nil
	c.mu.Unlock()

	if shouldStartGC {
		c.StartGC()
	}
	return true, nil
}

func (c *MemoryCache) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, found := c.items[key]
	if !found || it.expired(time.Now().UnixNano()) {
		return nil
	}
	return it.value
}

func (c *MemoryCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, found := c.items[key]
	return found && !it.expired(time.Now().UnixNano())
}

func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *MemoryCache) DeleteByPrefix(prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

func (c *MemoryCache) GetByPrefix(prefix string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]interface{})
	now := time.Now().UnixNano()
	for k, v := range c.items {
		if strings.HasPrefix(k, prefix) && !v.expired(now) {
			result[k] = v.value
		}
	}
	return result
}

// Len returns the number of stored items, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// StartGC starts the expiry sweep if any expirable item exists.
func (c *MemoryCache) StartGC() {
	c.mu.Lock()
	if c.ticker != nil {
		c.mu.Unlock()
		return
	}
	hasExpirable := false
	for _, itm := range c.items {
		if itm.expiration > 0 {
			hasExpirable = true
			break
		}
	}
	if !hasExpirable {
		c.mu.Unlock()
		return
	}
	ticker := time.NewTicker(c.gcInterval)
	stop := make(chan struct{})
	c.ticker = ticker
	c.stopGc = stop
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				c.deleteExpired()
			case <-stop:
				ticker.Stop()
				c.mu.Lock()
				if c.ticker == ticker {
					c.ticker = nil
				}
				c.mu.Unlock()
				return
			}
		}
	}()
}

// StopGC stops the expiry sweep.
func (c *MemoryCache) StopGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticker != nil && c.stopGc != nil {
		select {
		case <-c.stopGc:
		default:
			close(c.stopGc)
		}
	}
}

func (c *MemoryCache) deleteExpired() {
	now := time.Now().UnixNano()

	c.mu.RLock()
	var expiredKeys []string
	for k, v := range c.items {
		if v.expired(now) {
			expiredKeys = append(expiredKeys, k)
		}
	}
	c.mu.RUnlock()

	const batchSize = 300
	for i := 0; i < len(expiredKeys); i += batchSize {
		end := i + batchSize
		if end > len(expiredKeys) {
			end = len(expiredKeys)
		}
		c.mu.Lock()
		for _, k := range expiredKeys[i:end] {
			if it, found := c.items[k]; found && it.expired(now) {
				delete(c.items, k)
			}
		}
		c.mu.Unlock()
	}

	c.mu.RLock()
	hasExpirableRemaining := false
	for _, itm := range c.items {
		if itm.expiration > 0 {
			hasExpirableRemaining = true
			break
		}
	}
	c.mu.RUnlock()

	if !hasExpirableRemaining {
		c.StopGC()
	}
}
