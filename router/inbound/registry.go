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

// Package inbound provides the routers of inbound collections: selection,
// de-duplication, wire taps, aggregation and resequencing.
//
// Package inbound 提供入站路由器：选择、去重、窃听、聚合和重排序。
package inbound

import (
	"github.com/rulego/flowmesh/api/types"
)

// Registry collects the inbound router prototypes of this package.
var Registry = &types.SafeComponentSlice{}

// flowOf names the flow in notifications, falling back to the component type.
func flowOf(event *types.Event, fallback string) string {
	if name := event.FlowName(); name != "" {
		return name
	}
	return fallback
}
