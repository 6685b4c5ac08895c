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

// Package cast converts loosely typed values produced by expressions and configuration.
package cast

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

func ToInt(value interface{}) int {
	v, _ := ToIntE(value)
	return v
}

func ToIntE(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		return int(v), nil
	case float32:
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("unable to cast %v of type %T to int", value, value)
	}
}

// ToDurationE converts durations, duration strings and integer milliseconds.
func ToDurationE(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(v))
	default:
		ms, err := ToIntE(value)
		if err != nil {
			return 0, fmt.Errorf("unable to cast %v of type %T to duration", value, value)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
}

func ToBool(value interface{}) bool {
	v, _ := ToBoolE(value)
	return v
}

func ToBoolE(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b, nil
		}
		return false, fmt.Errorf("unable to cast %v of type %T to bool", value, value)
	default:
		i, err := ToIntE(value)
		if err != nil {
			return false, fmt.Errorf("unable to cast %v of type %T to bool", value, value)
		}
		return i != 0, nil
	}
}

// ToSlice converts any slice or array, except byte slices, to []interface{}.
func ToSlice(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	result := make([]interface{}, rv.Len())
	for i := range result {
		result[i] = rv.Index(i).Interface()
	}
	return result, true
}

// ToStringSlice converts a slice or a comma separated string to strings.
func ToStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case string:
		var result []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				result = append(result, item)
			}
		}
		return result, nil
	}
	items, ok := ToSlice(value)
	if !ok {
		return nil, fmt.Errorf("unable to cast %v of type %T to []string", value, value)
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		result = append(result, fmt.Sprint(item))
	}
	return result, nil
}
