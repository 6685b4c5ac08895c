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

// Package correlation holds the per-correlation-group state of aggregating routers.
//
// An Arena maps a correlation id to a Group. A group is created on the first
// arrival of its key, mutated only while its own lock is held, and removed
// either when the caller reports it complete or when its deadline fires.
// The key of a removed group stays closed for the retention period, so late
// members are refused instead of opening a second group for the same id.
//
// Package correlation 保存聚合路由器按关联组划分的状态。
package correlation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/utils/cache"
)

// DefaultRetention is how long the key of a removed group stays closed.
const DefaultRetention = 10 * time.Minute

var (
	ErrArenaClosed = errors.New("correlation arena is closed")
	// ErrGroupClosed is returned for a key whose group completed or expired
	// within the retention period.
	ErrGroupClosed = errors.New("correlation group already closed")
)

// Arena owns the open groups of one router.
type Arena struct {
	// timeout is the group deadline measured from its creation. 0 disables it.
	timeout time.Duration
	// maxGroups bounds the open groups. 0 means unbounded.
	maxGroups int
	// onExpire receives a group whose deadline fired. The group is already
	// removed from the arena and no longer reachable by other callers.
	onExpire func(g *Group)

	retention time.Duration
	// 已关闭组的键，过期后可重新打开
	closedKeys *cache.MemoryCache

	mu     sync.Mutex
	groups map[string]*Group
	closed bool
}

// NewArena creates an arena.
func NewArena(timeout time.Duration, maxGroups int, onExpire func(g *Group)) *Arena {
	return &Arena{
		timeout:   timeout,
		maxGroups: maxGroups,
		onExpire:   onExpire,
		retention:  DefaultRetention,
		closedKeys: cache.NewMemoryCache(DefaultRetention),
		groups:     make(map[string]*Group),
	}
}

// SetRetention sets how long the key of a removed group stays closed.
// It must be called before the arena is used. Values <= 0 are ignored.
func (a *Arena) SetRetention(retention time.Duration) *Arena {
	if retention > 0 {
		a.retention = retention
		a.closedKeys = cache.NewMemoryCache(retention)
	}
	return a
}

// IsClosed reports whether key belongs to a group removed within the retention period.
func (a *Arena) IsClosed(key string) bool {
	return a.closedKeys.Has(key)
}

// With runs fn with exclusive access to the group of key, creating the group on
// first arrival. The group is removed when fn returns true.
// A key whose group was removed within the retention period fails with ErrGroupClosed.
// Calls for different keys never block each other.
func (a *Arena) With(key string, fn func(g *Group) bool) error {
	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrArenaClosed
		}
		g, ok := a.groups[key]
		if !ok {
			if a.closedKeys.Has(key) {
				a.mu.Unlock()
				return ErrGroupClosed
			}
			if a.maxGroups > 0 && len(a.groups) >= a.maxGroups {
				a.mu.Unlock()
				return types.ErrTooManyGroups
			}
			g = newGroup(key)
			if a.timeout > 0 {
				// the deadline may fire at once; expire waits for the group lock
				g.mu.Lock()
				g.timer = time.AfterFunc(a.timeout, func() {
					a.expire(g)
				})
				g.mu.Unlock()
			}
			a.groups[key] = g
		}
		a.mu.Unlock()

		g.mu.Lock()
		if g.closed {
			// removed between lookup and lock; the retry sees the closed key
			g.mu.Unlock()
			continue
		}
		if fn(g) {
			g.close()
			a.remove(g)
		}
		g.mu.Unlock()
		return nil
	}
}

func (a *Arena) expire(g *Group) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.close()
	a.remove(g)
	g.mu.Unlock()
	if a.onExpire != nil {
		a.onExpire(g)
	}
}

func (a *Arena) remove(g *Group) {
	a.mu.Lock()
	if cur, ok := a.groups[g.Key]; ok && cur == g {
		delete(a.groups, g.Key)
		_ = a.closedKeys.Set(g.Key, struct{}{}, a.retention.String())
	}
	a.mu.Unlock()
}

// Len returns the number of open groups.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Close removes every open group without expiring it and returns them.
// Later calls to With fail with ErrArenaClosed.
func (a *Arena) Close() []*Group {
	a.mu.Lock()
	a.closed = true
	groups := make([]*Group, 0, len(a.groups))
	for _, g := range a.groups {
		groups = append(groups, g)
	}
	a.groups = make(map[string]*Group)
	a.mu.Unlock()
	a.closedKeys.StopGC()

	for _, g := range groups {
		g.mu.Lock()
		g.close()
		g.mu.Unlock()
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Created.Before(groups[j].Created)
	})
	return groups
}

// Group is the buffered state of one correlation id.
type Group struct {
	Key     string
	Created time.Time
	// Size is the expected number of members, taken from the first member that carries one.
	Size int

	mu        sync.Mutex
	closed    bool
	timer     *time.Timer
	bySeq     map[int]*types.Event
	unordered []*types.Event
	count     int
	// next is the next sequence the resequencer will release.
	next int
}

func newGroup(key string) *Group {
	return &Group{
		Key:     key,
		Created: time.Now(),
		bySeq:   make(map[int]*types.Event),
		next:    1,
	}
}

func (g *Group) close() {
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
	}
}

// Add buffers event. It returns false for a sequence number already buffered or released.
func (g *Group) Add(event *types.Event) bool {
	corr := event.Correlation()
	if g.Size == 0 && corr.GroupSize > 0 {
		g.Size = corr.GroupSize
	}
	if corr.Sequence > 0 {
		if _, ok := g.bySeq[corr.Sequence]; ok || corr.Sequence < g.next {
			return false
		}
		g.bySeq[corr.Sequence] = event
	} else {
		g.unordered = append(g.unordered, event)
	}
	g.count++
	return true
}

// Count returns the number of members accepted so far, released ones included.
func (g *Group) Count() int {
	return g.count
}

// Complete reports whether the expected number of members has arrived.
func (g *Group) Complete() bool {
	return g.Size > 0 && g.count >= g.Size
}

// Events returns the buffered members: sequenced ones in sequence order,
// then the ones without a sequence in arrival order.
func (g *Group) Events() []*types.Event {
	seqs := make([]int, 0, len(g.bySeq))
	for s := range g.bySeq {
		seqs = append(seqs, s)
	}
	sort.Ints(seqs)
	events := make([]*types.Event, 0, len(seqs)+len(g.unordered))
	for _, s := range seqs {
		events = append(events, g.bySeq[s])
	}
	return append(events, g.unordered...)
}

// Next releases the contiguous run of buffered members starting at the next
// expected sequence, plus any member without a sequence.
func (g *Group) Next() []*types.Event {
	var out []*types.Event
	for {
		e, ok := g.bySeq[g.next]
		if !ok {
			break
		}
		out = append(out, e)
		delete(g.bySeq, g.next)
		g.next++
	}
	out = append(out, g.unordered...)
	g.unordered = nil
	return out
}

// Drain releases every buffered member in order, gaps included.
func (g *Group) Drain() []*types.Event {
	events := g.Events()
	for s := range g.bySeq {
		if s >= g.next {
			g.next = s + 1
		}
	}
	g.bySeq = make(map[int]*types.Event)
	g.unordered = nil
	return events
}

// Released reports whether every expected member has been released by Next or Drain.
func (g *Group) Released() bool {
	return g.Size > 0 && g.next > g.Size && len(g.bySeq) == 0 && len(g.unordered) == 0
}

// Touch restarts the group deadline.
func (g *Group) Touch(timeout time.Duration) {
	if g.timer != nil && timeout > 0 {
		g.timer.Reset(timeout)
	}
}
