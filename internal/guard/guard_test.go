package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwaybot/internal/token"
)

func TestExpiredFiresOnceUntilReset(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	g := New(0)
	tok := token.Encode("x", now.Add(-time.Hour))

	msg, ok := g.Evaluate(tok, "alice", now)
	require.True(t, ok)
	assert.Contains(t, msg, "expired")

	for i := 0; i < 3; i++ {
		_, ok = g.Evaluate(tok, "alice", now.Add(time.Duration(i)*time.Hour))
		assert.False(t, ok)
	}

	g.Reset()
	_, ok = g.Evaluate(tok, "alice", now)
	assert.True(t, ok)
}

func TestExpiringSoonFiresOnce(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	g := New(24 * time.Hour)
	tok := token.Encode("x", now.Add(5*time.Hour))

	msg, kind, ok := g.EvaluateKind(tok, "bob", now)
	require.True(t, ok)
	assert.Equal(t, KindExpiringSoon, kind)
	assert.Contains(t, msg, "5.0 hours")

	_, ok = g.Evaluate(tok, "bob", now.Add(time.Hour))
	assert.False(t, ok)
}

func TestFlagsAreIndependent(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	g := New(24 * time.Hour)
	tok := token.Encode("x", now.Add(2*time.Hour))

	_, kind, ok := g.EvaluateKind(tok, "carol", now)
	require.True(t, ok)
	assert.Equal(t, KindExpiringSoon, kind)

	_, kind, ok = g.EvaluateKind(tok, "carol", now.Add(3*time.Hour))
	require.True(t, ok)
	assert.Equal(t, KindExpired, kind)

	st := g.Snapshot()["carol"]
	assert.True(t, st.ExpiredAlerted)
	assert.True(t, st.ExpiringSoonAlerted)
}

func TestFarFromExpiryIsSilent(t *testing.T) {
	t.Parallel()
	now := time.Now()
	g := New(24 * time.Hour)
	_, ok := g.Evaluate(token.Encode("x", now.Add(72*time.Hour)), "dave", now)
	assert.False(t, ok)
}

func TestAccountsAreTrackedSeparately(t *testing.T) {
	t.Parallel()
	now := time.Now()
	g := New(0)
	tok := token.Encode("x", now.Add(-time.Minute))

	_, ok := g.Evaluate(tok, "a", now)
	assert.True(t, ok)
	_, ok = g.Evaluate(tok, "b", now)
	assert.True(t, ok)
}

func TestSetThresholdWidensWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	g := New(24 * time.Hour)
	tok := token.Encode("x", now.Add(48*time.Hour))

	_, ok := g.Evaluate(tok, "carol", now)
	assert.False(t, ok)

	g.SetThreshold(72 * time.Hour)
	assert.Equal(t, 72*time.Hour, g.Threshold())
	_, kind, ok := g.EvaluateKind(tok, "carol", now)
	require.True(t, ok)
	assert.Equal(t, KindExpiringSoon, kind)

	g.SetThreshold(0)
	assert.Equal(t, DefaultThreshold, g.Threshold())
}
