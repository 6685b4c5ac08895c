/*
 * Copyright 2023 The RuleGo Authors.
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

package maps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type targetConfig struct {
	Targets  []string
	Timeout  time.Duration
	Parallel bool
	Size     int
}

func TestMap2Struct(t *testing.T) {
	var cfg targetConfig
	err := Map2Struct(map[string]interface{}{
		"targets":  "a,b",
		"timeout":  "250ms",
		"parallel": "true",
		"size":     "3",
	}, &cfg)
	assert.Nil(t, err)
	assert.Equal(t, []string{"a", "b"}, cfg.Targets)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.True(t, cfg.Parallel)
	assert.Equal(t, 3, cfg.Size)
}

func TestGet(t *testing.T) {
	m := map[string]interface{}{"a": map[string]interface{}{"b": 1}}
	assert.Equal(t, 1, Get(m, "a.b"))
	assert.Nil(t, Get(m, "a.c"))
	assert.Nil(t, Get(m, "a.b.c"))
}
