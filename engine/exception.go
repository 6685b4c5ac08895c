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

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rulego/flowmesh/api/types"
)

var (
	_ types.ExceptionHandler = DefaultExceptionHandler{}
	_ types.ExceptionHandler = (*FallbackExceptionHandler)(nil)
)

// DefaultExceptionHandler records the failure on the event and re-signals it.
type DefaultExceptionHandler struct{}

func (DefaultExceptionHandler) Handle(ctx context.Context, event *types.Event, err error) (*types.Event, error) {
	if event == nil {
		return nil, err
	}
	return event.WithException(ExceptionFor(event, err)), err
}

// ExceptionFor builds the exception payload describing err.
// An exception already present on the event keeps its kind.
func ExceptionFor(event *types.Event, err error) *types.ExceptionPayload {
	kind := types.KindProcessorFailed
	if existing := event.Exception(); existing != nil {
		kind = existing.Kind
	} else if errors.Is(err, types.ErrTargetTimeout) || errors.Is(err, context.DeadlineExceeded) {
		kind = types.KindTimeout
	} else if errors.Is(err, types.ErrForcedTermination) {
		kind = types.KindForcedTermination
	}
	ex := types.NewExceptionPayload(kind, err)
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		ex.WithProperty("stage", stageErr.Index)
	}
	return ex
}

// FallbackExceptionHandler recovers failures by running a fallback processor on
// the failed event. The fallback sees the exception payload and may clear it.
type FallbackExceptionHandler struct {
	Fallback types.Processor
}

func (h *FallbackExceptionHandler) Handle(ctx context.Context, event *types.Event, err error) (*types.Event, error) {
	if h.Fallback == nil || event == nil {
		return DefaultExceptionHandler{}.Handle(ctx, event, err)
	}
	failed := event.WithException(ExceptionFor(event, err))
	result, fallbackErr := RunStage(ctx, 0, h.Fallback, failed)
	if fallbackErr != nil {
		return failed, errors.Join(err, fmt.Errorf("fallback: %w", fallbackErr))
	}
	return result, nil
}
