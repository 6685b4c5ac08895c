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

package funcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscape(t *testing.T) {
	f, ok := Udf.Get("escape")
	require.True(t, ok)
	fn, ok := f.(func(string) string)
	require.True(t, ok)
	assert.Equal(t, "hello\\\\world", fn("hello\\world"))
	assert.Equal(t, "hello\\\"world\\\"", fn("hello\"world\""))
	assert.Equal(t, "hello\\nworld", fn("hello\nworld"))
	assert.Equal(t, "hello\\tworld", fn("hello\tworld"))
}

func TestToJsonAndHash(t *testing.T) {
	f, _ := Udf.Get("toJson")
	assert.Equal(t, `{"a":1}`, f.(func(any) string)(map[string]any{"a": 1}))
	h, _ := Udf.Get("sha256Hex")
	assert.Equal(t, "239f59ed55e737c77147cf55ad0c1b030b6d7ee748a7426952f9b852d5a935e5", h.(func(any) string)("payload"))
}

func TestRegister(t *testing.T) {
	Udf.Register("inc", func(a int) int { return a + 1 })
	assert.Contains(t, Udf.Names(), "inc")
	count := 0
	Udf.Range(func(name string, value any) bool {
		count++
		return true
	})
	assert.Equal(t, len(Udf.Names()), count)
	Udf.UnRegister("inc")
	_, ok := Udf.Get("inc")
	assert.False(t, ok)
}
