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

// Package maps decodes component configuration maps into structs.
package maps

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Map2Struct decodes input into output with mapstructure. Strings are weakly
// converted to numbers and booleans, and "10s" style strings to time.Duration.
func Map2Struct(input interface{}, output interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Get returns the value at a dotted path such as "a.b.c", or nil.
func Get(input map[string]interface{}, fieldName string) interface{} {
	var current interface{} = input
	for _, key := range strings.Split(fieldName, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		if current, ok = m[key]; !ok {
			return nil
		}
	}
	return current
}
