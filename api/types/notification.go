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

import "time"

// NotificationKind classifies engine notifications.
type NotificationKind string

const (
	NotificationFlowStarted       NotificationKind = "FLOW_STARTED"
	NotificationFlowStopped       NotificationKind = "FLOW_STOPPED"
	NotificationRouteNotFound     NotificationKind = "ROUTE_NOT_FOUND"
	NotificationRoutingFailed     NotificationKind = "ROUTING_FAILED"
	NotificationSecurityFailure   NotificationKind = "SECURITY_FAILURE"
	NotificationForcedTermination NotificationKind = "FORCED_TERMINATION"
	NotificationGroupExpired      NotificationKind = "GROUP_EXPIRED"
	NotificationDuplicate         NotificationKind = "DUPLICATE"
	NotificationRejected          NotificationKind = "REJECTED"
	// NotificationLateMember reports a member refused because its correlation group already closed.
	NotificationLateMember NotificationKind = "LATE_MEMBER"
)

// Notification is an out-of-band report of something that happened in a flow.
type Notification struct {
	Kind NotificationKind
	Flow string
	// Source names the component that raised the notification.
	Source string
	Event  *Event
	Err    error
	Ts     time.Time
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// Notify sends a notification through the config notifier if one is set.
func (c Config) Notify(kind NotificationKind, flow, source string, event *Event, err error) {
	if c.Notifier == nil {
		return
	}
	c.Notifier.Notify(Notification{Kind: kind, Flow: flow, Source: source, Event: event, Err: err, Ts: time.Now()})
}
