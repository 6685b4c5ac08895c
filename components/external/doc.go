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

// Package external provides processors that hand events to systems outside the engine:
//
//   - mqttPublish: publishes the payload to an MQTT broker
//   - restCall: sends the payload to an HTTP endpoint and replaces it with the response body
//
// Package external 提供与外部系统交互的处理器。
package external

import (
	"github.com/rulego/flowmesh/api/types"
)

// Registry collects the external processor prototypes of this package.
var Registry = &types.SafeComponentSlice{}
