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

package correlation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func member(id string, size, seq int) *types.Event {
	return types.NewPayloadEvent(seq, types.MediaTypeText, types.WithCorrelationGroup(id, size, seq))
}

func payloads(events []*types.Event) []interface{} {
	var out []interface{}
	for _, e := range events {
		out = append(out, e.Payload())
	}
	return out
}

func TestArenaCompleteGroup(t *testing.T) {
	arena := NewArena(0, 0, nil)
	var result []*types.Event
	for _, seq := range []int{2, 1, 3} {
		err := arena.With("c1", func(g *Group) bool {
			require.True(t, g.Add(member("c1", 3, seq)))
			if g.Complete() {
				result = g.Events()
				return true
			}
			return false
		})
		require.Nil(t, err)
	}
	assert.Equal(t, []interface{}{1, 2, 3}, payloads(result))
	assert.Equal(t, 0, arena.Len())
}

func TestArenaDuplicateSequence(t *testing.T) {
	arena := NewArena(0, 0, nil)
	_ = arena.With("c1", func(g *Group) bool {
		assert.True(t, g.Add(member("c1", 2, 1)))
		assert.False(t, g.Add(member("c1", 2, 1)))
		assert.Equal(t, 1, g.Count())
		return false
	})
	assert.Equal(t, 1, arena.Len())
}

func TestArenaNextAndDrain(t *testing.T) {
	g := newGroup("c1")
	g.Add(member("c1", 4, 3))
	assert.Empty(t, g.Next())
	g.Add(member("c1", 4, 1))
	assert.Equal(t, []interface{}{1}, payloads(g.Next()))
	g.Add(member("c1", 4, 2))
	assert.Equal(t, []interface{}{2, 3}, payloads(g.Next()))
	// a released sequence is rejected
	assert.False(t, g.Add(member("c1", 4, 2)))
	assert.False(t, g.Released())
	g.Add(member("c1", 4, 4))
	assert.Equal(t, []interface{}{4}, payloads(g.Drain()))
	assert.True(t, g.Released())
}

func TestArenaExpire(t *testing.T) {
	expired := make(chan *Group, 1)
	arena := NewArena(30*time.Millisecond, 0, func(g *Group) {
		expired <- g
	})
	require.Nil(t, arena.With("c1", func(g *Group) bool {
		g.Add(member("c1", 3, 1))
		return false
	}))
	select {
	case g := <-expired:
		assert.Equal(t, "c1", g.Key)
		assert.Equal(t, []interface{}{1}, payloads(g.Events()))
	case <-time.After(time.Second):
		t.Fatal("group did not expire")
	}
	assert.Equal(t, 0, arena.Len())

	// late members of the expired group are refused
	assert.ErrorIs(t, arena.With("c1", func(g *Group) bool { return true }), ErrGroupClosed)
	assert.True(t, arena.IsClosed("c1"))
}

func TestArenaRetention(t *testing.T) {
	arena := NewArena(0, 0, nil).SetRetention(30 * time.Millisecond)
	defer arena.Close()
	require.Nil(t, arena.With("c1", func(g *Group) bool {
		g.Add(member("c1", 1, 1))
		return true
	}))
	assert.Equal(t, 0, arena.Len())
	called := false
	assert.ErrorIs(t, arena.With("c1", func(g *Group) bool {
		called = true
		return false
	}), ErrGroupClosed)
	assert.False(t, called)
	assert.Equal(t, 0, arena.Len())

	// 保留期过后同一个键重新开组
	require.Eventually(t, func() bool { return !arena.IsClosed("c1") }, time.Second, 5*time.Millisecond)
	require.Nil(t, arena.With("c1", func(g *Group) bool {
		assert.Equal(t, 0, g.Count())
		return true
	}))
}

func TestArenaImmediateDeadline(t *testing.T) {
	var expired sync.WaitGroup
	expired.Add(50)
	arena := NewArena(time.Nanosecond, 0, func(g *Group) {
		expired.Done()
	})
	for i := 0; i < 50; i++ {
		err := arena.With(fmt.Sprintf("k%d", i), func(g *Group) bool {
			g.Add(member(g.Key, 2, 1))
			return false
		})
		if err != nil {
			assert.ErrorIs(t, err, ErrGroupClosed)
		}
	}
	expired.Wait()
	assert.Equal(t, 0, arena.Len())
}

func TestArenaMaxGroups(t *testing.T) {
	arena := NewArena(0, 1, nil)
	require.Nil(t, arena.With("a", func(g *Group) bool { return false }))
	assert.ErrorIs(t, arena.With("b", func(g *Group) bool { return false }), types.ErrTooManyGroups)
	// existing group is still reachable
	assert.Nil(t, arena.With("a", func(g *Group) bool { return true }))
	assert.Nil(t, arena.With("b", func(g *Group) bool { return true }))
}

func TestArenaClose(t *testing.T) {
	arena := NewArena(time.Hour, 0, nil)
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		require.Nil(t, arena.With(key, func(g *Group) bool { return false }))
	}
	groups := arena.Close()
	assert.Len(t, groups, 3)
	assert.Equal(t, 0, arena.Len())
	assert.ErrorIs(t, arena.With("k0", func(g *Group) bool { return false }), ErrArenaClosed)
}

func TestArenaConcurrentSameKey(t *testing.T) {
	arena := NewArena(0, 0, nil)
	const size = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	completions := 0
	var result []*types.Event
	for i := 1; i <= size; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			_ = arena.With("c1", func(g *Group) bool {
				g.Add(member("c1", size, seq))
				if g.Complete() {
					mu.Lock()
					completions++
					result = g.Events()
					mu.Unlock()
					return true
				}
				return false
			})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, completions)
	require.Len(t, result, size)
	for i, e := range result {
		assert.Equal(t, i+1, e.Correlation().Sequence)
	}
	assert.Equal(t, 0, arena.Len())
}
