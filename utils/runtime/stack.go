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

// Package runtime formats stack traces for recovered panics.
package runtime

import (
	"fmt"
	"runtime"
	"strings"
)

const maxFrames = 20

// Stack returns the stack of the caller, one "file:line" per line.
func Stack() string {
	return StackSkip(1)
}

// StackSkip returns the stack above skip extra frames.
func StackSkip(skip int) string {
	pc := make([]uintptr, maxFrames)
	n := runtime.Callers(2+skip, pc)
	frames := runtime.CallersFrames(pc[:n])
	var build strings.Builder
	for {
		frame, more := frames.Next()
		build.WriteString(fmt.Sprintf(" %s:%d \n", frame.File, frame.Line))
		if !more {
			break
		}
	}
	return build.String()
}
