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

package endpoint

import (
	"mime"
	"strings"

	"github.com/rulego/flowmesh/api/types"
)

// PayloadOf returns the payload value for raw bytes of the given media type.
// Text and JSON become strings, anything else stays []byte.
func PayloadOf(body []byte, mediaType string) types.Payload {
	mediaType = NormaliseMediaType(mediaType)
	switch {
	case mediaType == types.MediaTypeJSON, strings.HasPrefix(mediaType, "text/"), strings.HasSuffix(mediaType, "+json"):
		return types.Payload{Value: string(body), MediaType: mediaType}
	default:
		return types.Payload{Value: body, MediaType: mediaType}
	}
}

// NormaliseMediaType strips parameters such as charset. Empty becomes text/plain.
func NormaliseMediaType(mediaType string) string {
	if mediaType == "" {
		return types.MediaTypeText
	}
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		return mt
	}
	return mediaType
}

// NewEvent creates an event for body with the properties in the inbound scope.
func NewEvent(body []byte, mediaType string, inbound map[string]any, opts ...types.EventOption) *types.Event {
	payload := PayloadOf(body, mediaType)
	event := types.NewPayloadEvent(payload.Value, payload.MediaType, opts...)
	if len(inbound) == 0 {
		return event
	}
	return event.WithMessage(event.Message().WithProperties(types.InboundScope, inbound))
}

// LogFailure returns a DoneFunc that logs failed invocations of events emitted by source.
func LogFailure(config types.Config, source string) types.DoneFunc {
	return func(result *types.Event, err error) {
		if err != nil {
			config.Printf("%s: event failed: %v", source, err)
		} else if result != nil && result.Exception() != nil && !result.ShortCircuited() {
			config.Printf("%s: event %s failed: %v", source, result.Id(), result.Exception())
		}
	}
}
