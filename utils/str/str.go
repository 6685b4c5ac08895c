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

// Package str provides string helpers used by templates, routers and sources.
package str

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	VarPrefix = "${"
	VarSuffix = "}"
)

// 正则表达式匹配 ${aa} 或 ${aa.bb}
var tplVarRegex = regexp.MustCompile(`\$\{ *([^}]+) *\}`)

// SprintfDict replaces ${key} placeholders with values from dict.
// Unknown keys are left as they are.
// Example: SprintfDict("Hello,${name}",map[string]string{"name":"Alice"}) returns "Hello,Alice".
func SprintfDict(original string, dict map[string]string) string {
	return tplVarRegex.ReplaceAllStringFunc(original, func(s string) string {
		matches := tplVarRegex.FindStringSubmatch(s)
		if len(matches) < 2 {
			return s
		}
		if result, ok := dict[strings.TrimSpace(matches[1])]; ok {
			return result
		}
		return s
	})
}

// ToString converts input to a string, ignoring errors.
func ToString(input interface{}) string {
	v, _ := ToStringMaybeErr(input)
	return v
}

// ToStringMaybeErr converts input to a string. Composite values are encoded as JSON.
func ToStringMaybeErr(input interface{}) (string, error) {
	if input == nil {
		return "", nil
	}
	switch v := input.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.Itoa(int(v)), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case fmt.Stringer:
		return v.String(), nil
	case error:
		return v.Error(), nil
	default:
		newValue, err := json.Marshal(input)
		if err != nil {
			return "", err
		}
		return string(newValue), nil
	}
}

// ToBytes converts input to bytes. Strings and byte slices are not encoded.
func ToBytes(input interface{}) ([]byte, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// CheckHasVar reports whether the string contains a ${} placeholder.
func CheckHasVar(str string) bool {
	return strings.Contains(str, VarPrefix) && strings.Contains(str, VarSuffix)
}

// SplitAndTrim splits s by sep and drops empty items.
func SplitAndTrim(s, sep string) []string {
	var result []string
	for _, item := range strings.Split(s, sep) {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// Contains 检查切片中是否包含元素
func Contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
