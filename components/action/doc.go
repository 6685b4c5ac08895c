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

// Package action provides processors with side effects that leave the event as it is:
//
//   - delay: holds the event for a period, asynchronously under the non-blocking strategy
//   - log: logs a line rendered by a JavaScript function
package action

import (
	"github.com/rulego/flowmesh/api/types"
)

// Registry collects the action prototypes of this package.
var Registry = &types.SafeComponentSlice{}
