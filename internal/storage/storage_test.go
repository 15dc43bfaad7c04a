package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "subwaybot/pkg/logx"
)

func record(i int, ok bool) OutcomeRecord {
	at := time.Date(2026, 3, 9, 11, 59, 50, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	return OutcomeRecord{
		ID:         fmt.Sprintf("rec-%d", i),
		CycleID:    "cycle-1",
		Account:    fmt.Sprintf("acct-%d", i),
		Station:    "Shahe",
		Slot:       "0730-0740",
		EntryDate:  "20260310",
		Succeeded:  ok,
		Rounds:     7,
		Attempts:   3,
		StartedAt:  at,
		FinishedAt: at.Add(8 * time.Second),
		Trace:      []string{"round 1: no", "final: yes"},
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(t.Context(), Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(t.Context(), Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo")
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(t.Context(), Config{Driver: "file", Path: filepath.Join(dir, "data", "subwaybot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendOutcome(t.Context(), record(i, i%2 == 0)))
	}

	_, err = os.Stat(filepath.Join(dir, "data", "subwaybot.outcomes.jsonl"))
	require.NoError(t, err)

	got, err := st.RecentOutcomes(t.Context(), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "rec-4", got[0].ID)
	assert.Equal(t, "rec-2", got[2].ID)
	assert.True(t, got[0].Succeeded)
	assert.Equal(t, []string{"round 1: no", "final: yes"}, got[0].Trace)
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(t.Context(), Config{Driver: "file", Path: filepath.Join(dir, "x.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.AppendOutcome(t.Context(), record(1, true)))
	f, err := os.OpenFile(filepath.Join(dir, "x.outcomes.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, _ = f.WriteString("{not json\n")
	require.NoError(t, f.Close())
	require.NoError(t, st.AppendOutcome(t.Context(), record(2, false)))

	got, err := st.RecentOutcomes(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rec-2", got[0].ID)
}

func TestFileStoreClosed(t *testing.T) {
	st, err := Open(t.Context(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "x.db")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.AppendOutcome(t.Context(), record(1, true)), ErrDisabled)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	st, err := Open(t.Context(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "subwaybot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	for i := 0; i < 4; i++ {
		require.NoError(t, st.AppendOutcome(t.Context(), record(i, i == 3)))
	}
	got, err := st.RecentOutcomes(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rec-3", got[0].ID)
	assert.True(t, got[0].Succeeded)
	assert.False(t, got[1].Succeeded)
	assert.Equal(t, 7, got[0].Rounds)
	assert.True(t, got[0].FinishedAt.Equal(record(3, true).FinishedAt))
	assert.Equal(t, []string{"round 1: no", "final: yes"}, got[0].Trace)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 100, clampLimit(0))
	assert.Equal(t, 100, clampLimit(5000))
	assert.Equal(t, 7, clampLimit(7))
}
