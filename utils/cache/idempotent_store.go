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

package cache

import (
	"context"
	"time"

	"github.com/rulego/flowmesh/api/types"
)

var _ types.IdempotentStore = (*IdempotentStore)(nil)

// IdempotentStore keeps seen keys in a types.Cache under a namespace prefix.
type IdempotentStore struct {
	Cache     types.Cache
	Namespace string
	// private is the cache created by the store itself, stopped by Close.
	private *MemoryCache
}

// NewIdempotentStore creates a store on cache. A nil cache gets a private MemoryCache.
func NewIdempotentStore(cache types.Cache, namespace string) *IdempotentStore {
	s := &IdempotentStore{Cache: cache, Namespace: namespace}
	if cache == nil {
		s.private = NewMemoryCache(time.Minute)
		s.Cache = s.private
	}
	return s
}

// Close stops the expiry sweep of a private cache. A shared cache is left running.
func (s *IdempotentStore) Close() error {
	if s != nil && s.private != nil {
		s.private.StopGC()
	}
	return nil
}

func (s *IdempotentStore) StoreIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s == nil || s.Cache == nil {
		return false, types.ErrCacheNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ttlStr := ""
	if ttl > 0 {
		ttlStr = ttl.String()
	}
	return s.Cache.SetIfAbsent(s.Namespace+key, time.Now().UnixMilli(), ttlStr)
}

// Forget removes a key so it is accepted again.
func (s *IdempotentStore) Forget(key string) error {
	if s == nil || s.Cache == nil {
		return types.ErrCacheNotInitialized
	}
	return s.Cache.Delete(s.Namespace + key)
}
