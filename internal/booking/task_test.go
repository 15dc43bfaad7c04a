package booking

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwaybot/internal/config"
	"subwaybot/internal/metro"
	"subwaybot/pkg/logx"
)

func testAccount(name string) config.Account {
	return config.Account{
		Name:        name,
		LineName:    "Changping Line",
		StationName: "Shahe",
		TimeSlot:    "0730-0740",
	}
}

func testParams(start time.Time) TaskParams {
	return TaskParams{
		CycleID:   "cycle",
		Start:     start,
		EntryDate: start.AddDate(0, 0, 1),
		Frequency: 7,
		Interval:  time.Second,
	}
}

func TestAccountTaskExistingReservationShortCircuits(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(at(9, 11, 59))
	r := &fakeRemote{has: func(int) bool { return true }}

	out := RunAccountTask(t.Context(), testAccount("alice"), r, clk, testParams(at(9, 12, 0)), logx.Nop())

	assert.True(t, out.Succeeded)
	assert.Equal(t, 0, out.Rounds)
	assert.Equal(t, 0, out.Attempts)
	assert.EqualValues(t, 0, r.attemptCalls.Load())
	assert.EqualValues(t, 0, r.balanceCalls.Load())
	// No final check either.
	assert.EqualValues(t, 1, r.hasCalls.Load())
	assert.Empty(t, clk.untils, "must not wait for the start time")
}

func TestAccountTaskExhaustsBudgetWithoutBalance(t *testing.T) {
	t.Parallel()

	start := at(9, 12, 0)
	clk := newFakeClock(start.Add(-10 * time.Second))
	r := &fakeRemote{}

	out := RunAccountTask(t.Context(), testAccount("bob"), r, clk, testParams(start), logx.Nop())

	assert.False(t, out.Succeeded)
	assert.Equal(t, 7, out.Rounds)
	assert.EqualValues(t, 7, r.balanceCalls.Load())
	// Only the first round attempts without balance.
	assert.Equal(t, 3, out.Attempts)
	assert.EqualValues(t, 3, r.attemptCalls.Load())
	// Initial check, one per round, one after the first fan-out, the final one.
	assert.EqualValues(t, 10, r.hasCalls.Load())

	require.Len(t, clk.sleeps, 7)
	for _, d := range clk.sleeps {
		assert.Equal(t, time.Second, d)
	}
	require.Len(t, clk.untils, 1)
	assert.True(t, clk.untils[0].Equal(start))
	assert.True(t, out.Finished.Equal(start.Add(7*time.Second)))
	assert.NotEmpty(t, out.Trace)
}

func TestAccountTaskAttemptsWhenBalanceAppears(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(at(9, 11, 59))
	r := &fakeRemote{}
	r.balance = func(call int) []metro.Availability {
		if call >= 3 {
			return []metro.Availability{{EnterDate: "20260310", TimeSlot: "0730-0740", Remaining: 4}}
		}
		return nil
	}
	// Confirmed once the second fan-out has fired.
	r.has = func(int) bool { return r.attemptCalls.Load() >= 6 }

	out := RunAccountTask(t.Context(), testAccount("carol"), r, clk, testParams(at(9, 12, 0)), logx.Nop())

	assert.True(t, out.Succeeded)
	assert.Equal(t, 3, out.Rounds)
	assert.Equal(t, 6, out.Attempts)
	// Sleeps after rounds 1 and 2, none after the successful break.
	assert.Equal(t, 2, clk.sleepCount())
}

func TestAccountTaskFinalCheckOverridesLoop(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(at(9, 11, 59))
	p := testParams(at(9, 12, 0))
	p.Frequency = 2
	// Calls: initial, round 1, after the fan-out, round 2, final.
	r := &fakeRemote{has: func(call int) bool { return call == 5 }}

	out := RunAccountTask(t.Context(), testAccount("dave"), r, clk, p, logx.Nop())

	assert.True(t, out.Succeeded)
	assert.Equal(t, 2, out.Rounds)
	assert.True(t, containsLine(out.Trace, "final check overrides"))
}

func TestAccountTaskStopsOnceReservationVisible(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(at(9, 11, 59))
	r := &fakeRemote{}
	// Lands after the first round; balance never shows tickets.
	r.has = func(int) bool { return r.balanceCalls.Load() >= 2 }

	out := RunAccountTask(t.Context(), testAccount("fay"), r, clk, testParams(at(9, 12, 0)), logx.Nop())

	assert.True(t, out.Succeeded)
	assert.Equal(t, 2, out.Rounds)
	assert.EqualValues(t, 2, r.balanceCalls.Load())
	assert.Equal(t, 3, out.Attempts, "no attempts once the reservation is held")
	assert.Equal(t, 1, clk.sleepCount())
	assert.False(t, containsLine(out.Trace, "final check overrides"))
}

func TestAccountTaskConfirmedBeforeFanOutSkipsAttempts(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(at(9, 11, 59))
	r := &fakeRemote{
		has:     func(call int) bool { return call >= 4 },
		balance: func(int) []metro.Availability { return []metro.Availability{{Remaining: 1}} },
	}

	out := RunAccountTask(t.Context(), testAccount("gus"), r, clk, testParams(at(9, 12, 0)), logx.Nop())

	assert.True(t, out.Succeeded)
	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, 3, out.Attempts)
}

func TestAccountTaskTracesAcceptedAttempts(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(at(9, 11, 59))
	p := testParams(at(9, 12, 0))
	p.Frequency = 1
	var n atomic.Int64
	r := &fakeRemote{attempt: func() bool { return n.Add(1) <= 2 }}

	out := RunAccountTask(t.Context(), testAccount("hal"), r, clk, p, logx.Nop())

	assert.False(t, out.Succeeded)
	assert.True(t, containsLine(out.Trace, "round 1: 2 of 3 attempts accepted"), out.Trace)
}

func TestAccountTaskRecoversPanic(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(at(9, 11, 59))
	r := &fakeRemote{balance: func(int) []metro.Availability { panic("boom") }}

	out := RunAccountTask(t.Context(), testAccount("erin"), r, clk, testParams(at(9, 12, 0)), logx.Nop())

	assert.False(t, out.Succeeded)
	assert.Equal(t, "erin", out.Name)
	assert.True(t, containsLine(out.Trace, "panic: boom"))
	assert.False(t, out.Finished.IsZero())
}

func containsLine(lines []string, sub string) bool {
	for _, l := range lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}
