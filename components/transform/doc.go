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

// Package transform provides processors that replace the payload or the
// properties of an event.
//
//   - exprTransform: computes the payload with an expr expression or a field mapping
//   - jsTransform: computes payload and properties with a JavaScript function
//   - setProperty: sets message properties from ${} templates
//
// Package transform 提供替换事件负载或属性的处理器。
package transform

import (
	"github.com/rulego/flowmesh/api/types"
)

// Registry collects the transform prototypes of this package.
var Registry = &types.SafeComponentSlice{}
