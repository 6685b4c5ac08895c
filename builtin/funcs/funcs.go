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

// Package funcs holds the functions visible to every expression, template and
// script. Functions in types.Config.Udf take precedence over these.
package funcs

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/rulego/flowmesh/utils/str"
)

// Udf 内置用户函数
var Udf funcMap

func init() {
	Udf.Register("escape", func(s string) string {
		var replacer = strings.NewReplacer(
			"\\", "\\\\", // 反斜杠
			"\"", "\\\"", // 双引号
			"\n", "\\n", // 换行符
			"\r", "\\r", // 回车符
			"\t", "\\t", // 制表符
		)
		return replacer.Replace(s)
	})
	Udf.Register("toJson", func(v any) string {
		return str.ToString(v)
	})
	Udf.Register("sha256Hex", func(v any) string {
		sum := sha256.Sum256([]byte(str.ToString(v)))
		return hex.EncodeToString(sum[:])
	})
}

type funcMap struct {
	v map[string]any
	sync.RWMutex
}

func (x *funcMap) Register(name string, value any) {
	x.Lock()
	defer x.Unlock()
	if x.v == nil {
		x.v = make(map[string]any)
	}
	x.v[name] = value
}

func (x *funcMap) UnRegister(name string) {
	x.Lock()
	defer x.Unlock()
	delete(x.v, name)
}

func (x *funcMap) Get(name string) (any, bool) {
	x.RLock()
	defer x.RUnlock()
	f, ok := x.v[name]
	return f, ok
}

// Range calls fn for every function until fn returns false.
func (x *funcMap) Range(fn func(name string, value any) bool) {
	x.RLock()
	defer x.RUnlock()
	for k, v := range x.v {
		if !fn(k, v) {
			return
		}
	}
}

// Names returns the sorted function names.
func (x *funcMap) Names() []string {
	x.RLock()
	defer x.RUnlock()
	keys := make([]string, 0, len(x.v))
	for k := range x.v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
