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

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// ExchangePattern tells a flow whether the source expects a response.
type ExchangePattern int

const (
	OneWay ExchangePattern = iota
	RequestResponse
)

func (p ExchangePattern) String() string {
	if p == RequestResponse {
		return "REQUEST_RESPONSE"
	}
	return "ONE_WAY"
}

// Correlation groups events that belong together.
// GroupSize and Sequence are 0 when absent. Sequence is 1-based.
type Correlation struct {
	Id        string
	GroupSize int
	Sequence  int
}

// Event is one message in flight through exactly one flow invocation.
// Events are copy-on-write: every With* method returns a new Event and leaves
// the receiver untouched, so an Event can be handed to several targets safely.
type Event struct {
	id              string
	rootId          string
	ts              int64
	message         *Message
	synchronous     bool
	exchangePattern ExchangePattern
	// flowName is a lookup key only, the flow owns the event and not the other way round.
	flowName    string
	correlation Correlation
	session     *Session
}

// EventOption customises an Event at creation time.
type EventOption func(e *Event)

// WithEventId overrides the generated event id.
func WithEventId(id string) EventOption {
	return func(e *Event) {
		if id != "" {
			e.id = id
		}
	}
}

// WithExchangePattern sets the exchange pattern.
func WithExchangePattern(pattern ExchangePattern) EventOption {
	return func(e *Event) {
		e.exchangePattern = pattern
	}
}

// WithSynchronous marks the event as synchronous.
func WithSynchronous(synchronous bool) EventOption {
	return func(e *Event) {
		e.synchronous = synchronous
	}
}

// WithSession attaches a conversation session.
func WithSession(session *Session) EventOption {
	return func(e *Event) {
		if session != nil {
			e.session = session
		}
	}
}

// WithCorrelationGroup sets correlation id, group size and sequence.
func WithCorrelationGroup(id string, groupSize, sequence int) EventOption {
	return func(e *Event) {
		e.correlation = Correlation{Id: id, GroupSize: groupSize, Sequence: sequence}
	}
}

// NewEvent creates an event for the message and generates its id.
func NewEvent(message *Message, opts ...EventOption) *Event {
	if message == nil {
		message = NewMessage(nil, "")
	}
	e := &Event{
		id:              newId(),
		ts:              time.Now().UnixMilli(),
		message:         message,
		exchangePattern: RequestResponse,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.session == nil {
		e.session = NewSession()
	}
	return e
}

// NewPayloadEvent is a shortcut for NewEvent(NewMessage(value, mediaType)).
func NewPayloadEvent(value any, mediaType string, opts ...EventOption) *Event {
	return NewEvent(NewMessage(value, mediaType), opts...)
}

func newId() string {
	id, _ := uuid.NewV4()
	return id.String()
}

func (e *Event) clone() *Event {
	c := *e
	return &c
}

// Id returns the event id. Replacement events created with the With* methods keep it.
func (e *Event) Id() string {
	return e.id
}

// RootId returns the id of the event this one was split from, or empty.
func (e *Event) RootId() string {
	return e.rootId
}

// Timestamp returns the creation time in unix milliseconds.
func (e *Event) Timestamp() int64 {
	return e.ts
}

func (e *Event) Message() *Message {
	return e.message
}

// Payload returns the payload value of the message.
func (e *Event) Payload() any {
	return e.message.Payload().Value
}

func (e *Event) IsSynchronous() bool {
	return e.synchronous
}

func (e *Event) ExchangePattern() ExchangePattern {
	return e.exchangePattern
}

// FlowName returns the name of the flow processing the event.
func (e *Event) FlowName() string {
	return e.flowName
}

func (e *Event) Correlation() Correlation {
	return e.correlation
}

func (e *Event) CorrelationId() string {
	return e.correlation.Id
}

func (e *Event) Session() *Session {
	return e.session
}

// Exception returns the exception payload of the message, if any.
func (e *Event) Exception() *ExceptionPayload {
	return e.message.Exception()
}

// ShortCircuited reports whether the event carries an exception that stops the chain.
func (e *Event) ShortCircuited() bool {
	ex := e.message.Exception()
	return ex != nil && ex.Kind.ShortCircuits()
}

// Copy returns a replacement event with a copied message.
func (e *Event) Copy() *Event {
	c := e.clone()
	c.message = e.message.copy()
	return c
}

// WithMessage returns a replacement event carrying message.
func (e *Event) WithMessage(message *Message) *Event {
	c := e.clone()
	c.message = message
	return c
}

// WithPayload returns a replacement event whose payload value is value.
// The media type is kept.
func (e *Event) WithPayload(value any) *Event {
	return e.WithMessage(e.message.WithPayload(Payload{Value: value, MediaType: e.message.Payload().MediaType}))
}

// WithException returns a replacement event whose message carries ex.
func (e *Event) WithException(ex *ExceptionPayload) *Event {
	return e.WithMessage(e.message.WithException(ex))
}

// WithProperty returns a replacement event with a message property set.
func (e *Event) WithProperty(scope Scope, key string, value any) *Event {
	return e.WithMessage(e.message.WithProperty(scope, key, value))
}

// WithFlow returns a replacement event owned by the named flow.
func (e *Event) WithFlow(flowName string) *Event {
	c := e.clone()
	c.flowName = flowName
	return c
}

// WithSynchronous returns a replacement event with the synchronous flag set.
func (e *Event) WithSynchronous(synchronous bool) *Event {
	c := e.clone()
	c.synchronous = synchronous
	return c
}

// WithCorrelation returns a replacement event with the given correlation.
// The correlation id cannot change once assigned.
func (e *Event) WithCorrelation(id string, groupSize, sequence int) (*Event, error) {
	if e.correlation.Id != "" && id != e.correlation.Id {
		return e, ErrCorrelationImmutable
	}
	c := e.clone()
	c.correlation = Correlation{Id: id, GroupSize: groupSize, Sequence: sequence}
	return c, nil
}

// NewChild creates a new event split from e. The child gets a fresh id, shares
// the session, inherits the inbound and invocation properties, and joins the
// correlation group of e. When e has no correlation id its own id is used.
func (e *Event) NewChild(payload Payload, groupSize, sequence int) *Event {
	correlationId := e.correlation.Id
	if correlationId == "" {
		correlationId = e.id
	}
	msg := NewMessage(payload.Value, payload.MediaType).
		WithProperties(InboundScope, e.message.Properties(InboundScope)).
		WithProperties(InvocationScope, e.message.Properties(InvocationScope))
	return &Event{
		id:              newId(),
		rootId:          e.id,
		ts:              time.Now().UnixMilli(),
		message:         msg,
		synchronous:     e.synchronous,
		exchangePattern: e.exchangePattern,
		flowName:        e.flowName,
		correlation:     Correlation{Id: correlationId, GroupSize: groupSize, Sequence: sequence},
		session:         e.session,
	}
}
