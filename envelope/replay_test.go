package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReplayGuardSeen(t *testing.T) {
	g := NewReplayGuard(time.Minute)
	defer g.Close()

	assert.False(t, g.Seen("alice", "sig1"))
	assert.True(t, g.Seen("alice", "sig1"))
	assert.False(t, g.Seen("alice", "sig2"))
	assert.False(t, g.Seen("bob", "sig1"))
}

func TestReplayGuardIgnoresEmpty(t *testing.T) {
	g := NewReplayGuard(time.Minute)
	defer g.Close()

	assert.False(t, g.Seen("", "sig"))
	assert.False(t, g.Seen("alice", ""))
	assert.False(t, g.Seen("", "sig"))
}

func TestReplayGuardDeleteSender(t *testing.T) {
	g := NewReplayGuard(time.Minute)
	defer g.Close()

	assert.False(t, g.Seen("alice", "sig"))
	g.DeleteSender("alice")
	assert.False(t, g.Seen("alice", "sig"))
}
