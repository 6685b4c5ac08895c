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

// Package aspect provides the built-in flow aspects. An aspect is registered
// with types.WithAspects and runs around every event a flow admits.
//
// Package aspect 提供内置的流切面。
//
// Available Built-in Aspects:
// 可用的内置切面：
//
//   - ConcurrencyLimiterAspect: bounds the events in flight across every flow sharing the config
//     ConcurrencyLimiterAspect：限制共享配置的所有流的并发事件数
//
//   - Metrics: OpenTelemetry counters and latency histogram per flow
//     Metrics：OpenTelemetry 指标
//
//   - Tracing: one OpenTelemetry span per event
//     Tracing：每个事件一个 OpenTelemetry span
//
//   - Debug: logs events entering and leaving a flow
//     Debug：记录事件进入和离开流的日志
//
// Aspects run in ascending Order():
// 切面根据其 Order() 方法按顺序执行：
//  1. ConcurrencyLimiterAspect (order: 10)
//  2. Metrics (order: 20)
//  3. Tracing (order: 30)
//  4. Debug (order: 900)
//
// Usage:
// 使用示例：
//
//	runtime := engine.NewRuntime(types.WithAspects(&aspect.Debug{}, aspect.NewConcurrencyLimiterAspect(1000)))
package aspect

// flowSet matches flow names. An empty set matches every flow.
type flowSet []string

func (s flowSet) match(flow string) bool {
	if len(s) == 0 {
		return true
	}
	for _, f := range s {
		if f == flow {
			return true
		}
	}
	return false
}
