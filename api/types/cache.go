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

// Cache is a thread safe key-value store with expiration.
type Cache interface {
	// Set stores a value. ttl is a duration string such as "10m"; empty or "0" never expires.
	Set(key string, value interface{}, ttl string) error
	// SetIfAbsent stores the value only if the key is missing or expired and reports whether it stored.
	SetIfAbsent(key string, value interface{}, ttl string) (bool, error)
	// Get returns nil if the key does not exist or has expired.
	Get(key string) interface{}
	Has(key string) bool
	Delete(key string) error
	DeleteByPrefix(prefix string) error
	GetByPrefix(prefix string) map[string]interface{}
}
