package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEConnectionManager(t *testing.T) {
	manager := NewSSEConnectionManager()

	s1 := NewSSESession("s1", "agent-1", 1)
	time.Sleep(time.Millisecond)
	s2 := NewSSESession("s2", "agent-2", 1)

	manager.AddSession(s1)
	manager.AddSession(s2)
	assert.Equal(t, 2, manager.Count())

	got, ok := manager.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, s1, got)

	_, ok = manager.GetSession("unknown")
	assert.False(t, ok)

	sessions := manager.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, "agent-2", sessions[1].UserAgent)

	removed, ok := manager.RemoveSession("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", removed.ID())

	_, ok = manager.RemoveSession("s1")
	assert.False(t, ok, "second removal must report absence")
	assert.Equal(t, 1, manager.Count())
}

func TestSSEConnectionManager_CloseAll(t *testing.T) {
	manager := NewSSEConnectionManager()
	s1 := NewSSESession("s1", "", 1)
	s2 := NewSSESession("s2", "", 1)
	manager.AddSession(s1)
	manager.AddSession(s2)

	ids := manager.CloseAll()

	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)
	assert.Equal(t, 0, manager.Count())
	for _, s := range []interface{ Done() <-chan struct{} }{s1, s2} {
		select {
		case <-s.Done():
		default:
			t.Fatal("session was not closed")
		}
	}
}
