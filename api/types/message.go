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

package types

import "fmt"

// Media types commonly used by payloads.
const (
	MediaTypeJSON   = "application/json"
	MediaTypeText   = "text/plain"
	MediaTypeBinary = "application/octet-stream"
)

// Scope selects one of the three property scopes of a message.
type Scope int

const (
	InboundScope Scope = iota
	OutboundScope
	InvocationScope
)

var scopeNames = [...]string{"inbound", "outbound", "invocation"}

func (s Scope) String() string {
	if s < 0 || int(s) >= len(scopeNames) {
		return fmt.Sprintf("scope(%d)", int(s))
	}
	return scopeNames[s]
}

// ParseScope maps a scope name to a Scope.
func ParseScope(name string) (Scope, error) {
	for i, n := range scopeNames {
		if n == name {
			return Scope(i), nil
		}
	}
	return InboundScope, fmt.Errorf("unknown property scope %q", name)
}

// Properties is a string keyed property bag.
type Properties map[string]any

// Copy returns a shallow copy.
func (p Properties) Copy() Properties {
	c := make(Properties, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Payload is an opaque value with its media type.
type Payload struct {
	Value     any
	MediaType string
}

// ErrorKind classifies an exception payload.
type ErrorKind string

const (
	KindFilterUnaccepted  ErrorKind = "FILTER_UNACCEPTED"
	KindUnauthorised      ErrorKind = "UNAUTHORISED"
	KindDuplicate         ErrorKind = "DUPLICATE"
	KindRoutingFailed     ErrorKind = "ROUTING_FAILED"
	KindProcessorFailed   ErrorKind = "PROCESSOR_FAILED"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindForcedTermination ErrorKind = "FORCED_TERMINATION"
)

// ShortCircuits reports whether an event carrying this kind stops the chain.
func (k ErrorKind) ShortCircuits() bool {
	switch k {
	case KindFilterUnaccepted, KindUnauthorised, KindDuplicate:
		return true
	default:
		return false
	}
}

// ExceptionPayload records an error on a message.
type ExceptionPayload struct {
	Kind       ErrorKind
	Cause      error
	Properties map[string]any
}

// NewExceptionPayload creates an exception payload.
func NewExceptionPayload(kind ErrorKind, cause error) *ExceptionPayload {
	return &ExceptionPayload{Kind: kind, Cause: cause, Properties: map[string]any{}}
}

// WithProperty adds a diagnostic property and returns the payload.
func (e *ExceptionPayload) WithProperty(key string, value any) *ExceptionPayload {
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	e.Properties[key] = value
	return e
}

func (e *ExceptionPayload) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Cause.Error()
}

func (e *ExceptionPayload) Unwrap() error {
	return e.Cause
}

// Message is a payload plus scoped properties and an optional exception.
// Messages are immutable once attached to an event; the With* methods return copies.
type Message struct {
	payload   Payload
	scopes    [3]Properties
	exception *ExceptionPayload
}

// NewMessage creates a message with empty property scopes.
func NewMessage(value any, mediaType string) *Message {
	return &Message{
		payload: Payload{Value: value, MediaType: mediaType},
		scopes:  [3]Properties{{}, {}, {}},
	}
}

func (m *Message) copy() *Message {
	c := &Message{payload: m.payload, exception: m.exception}
	for i := range m.scopes {
		c.scopes[i] = m.scopes[i].Copy()
	}
	return c
}

func (m *Message) Payload() Payload {
	return m.payload
}

// Property returns a property from the given scope.
func (m *Message) Property(scope Scope, key string) (any, bool) {
	v, ok := m.scopes[scope][key]
	return v, ok
}

// Properties returns a copy of the properties of the given scope.
func (m *Message) Properties(scope Scope) Properties {
	return m.scopes[scope].Copy()
}

func (m *Message) Exception() *ExceptionPayload {
	return m.exception
}

// WithPayload returns a copy with a new payload.
func (m *Message) WithPayload(payload Payload) *Message {
	c := m.copy()
	c.payload = payload
	return c
}

// WithProperty returns a copy with key set in scope.
func (m *Message) WithProperty(scope Scope, key string, value any) *Message {
	c := m.copy()
	c.scopes[scope][key] = value
	return c
}

// WithProperties returns a copy with all props merged into scope.
func (m *Message) WithProperties(scope Scope, props map[string]any) *Message {
	c := m.copy()
	for k, v := range props {
		c.scopes[scope][k] = v
	}
	return c
}

// WithException returns a copy carrying ex.
func (m *Message) WithException(ex *ExceptionPayload) *Message {
	c := m.copy()
	c.exception = ex
	return c
}

// ClearException returns a copy without an exception payload.
func (m *Message) ClearException() *Message {
	return m.WithException(nil)
}
