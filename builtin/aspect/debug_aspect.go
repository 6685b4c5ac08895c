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

package aspect

import (
	"context"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/utils/str"
)

var (
	_ types.StartAspect     = (*Debug)(nil)
	_ types.CompletedAspect = (*Debug)(nil)
)

// Debug flow directions.
const (
	In  = "IN"
	Out = "OUT"
)

// Debug logs every event entering and leaving a flow.
// OnDebug, when set, receives the records instead of Logger.
//
// Debug 是一个调试日志切面。
type Debug struct {
	Logger types.Logger
	// Flows limits the aspect to these flows. Empty means every flow.
	Flows   []string
	OnDebug func(flow, direction string, event *types.Event, err error)
}

func (aspect *Debug) Order() int {
	return 900
}

func (aspect *Debug) PointCut(flow string, event *types.Event) bool {
	return flowSet(aspect.Flows).match(flow)
}

func (aspect *Debug) Start(ctx context.Context, flow string, event *types.Event) (context.Context, error) {
	aspect.onDebug(flow, In, event, nil)
	return ctx, nil
}

func (aspect *Debug) Completed(ctx context.Context, flow string, event *types.Event, err error) {
	aspect.onDebug(flow, Out, event, err)
}

func (aspect *Debug) onDebug(flow, direction string, event *types.Event, err error) {
	if aspect.OnDebug != nil {
		aspect.OnDebug(flow, direction, event, err)
		return
	}
	logger := aspect.Logger
	if logger == nil {
		logger = types.DefaultLogger()
	}
	if err != nil {
		logger.Printf("flow=%s %s id=%s payload=%s err=%v", flow, direction, event.Id(), str.ToString(event.Payload()), err)
		return
	}
	logger.Printf("flow=%s %s id=%s payload=%s", flow, direction, event.Id(), str.ToString(event.Payload()))
}
