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

// Package endpoint holds the helpers shared by the sources that push events
// into flows. A source implements types.Source and is started and stopped
// with the flow it feeds.
//
// Package endpoint 提供事件源的公共方法。
//
// Built-in sources:
//
//   - endpoint/rest: HTTP and WebSocket server (httprouter, gorilla/websocket)
//   - endpoint/schedule: cron triggered events (robfig/cron)
package endpoint
