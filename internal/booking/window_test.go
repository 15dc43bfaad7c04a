package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, cst)
}

func TestComputeWindow(t *testing.T) {
	t.Parallel()

	w, err := NewWindow([]int{20, 12}, cst, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 20}, w.Hours())

	cases := []struct {
		name     string
		now      time.Time
		holidays holidaySet
		want     Plan
	}{
		{
			name: "morning picks noon",
			now:  at(9, 9, 0),
			want: Plan{Kind: PlanDispatch, Trigger: at(9, 12, 0), EntryDate: at(10, 0, 0), WakeAt: at(9, 11, 59).Add(50 * time.Second)},
		},
		{
			name: "afternoon picks evening",
			now:  at(9, 13, 0),
			want: Plan{Kind: PlanDispatch, Trigger: at(9, 20, 0), EntryDate: at(10, 0, 0), WakeAt: at(9, 19, 59).Add(50 * time.Second)},
		},
		{
			name: "late evening rolls to tomorrow noon",
			now:  at(9, 21, 0),
			want: Plan{Kind: PlanMissed, Trigger: at(10, 12, 0), EntryDate: at(11, 0, 0), WakeAt: at(10, 0, 0), Missed: true},
		},
		{
			name:     "holiday entry date sleeps past it",
			now:      at(9, 9, 0),
			holidays: holidaySet{"20260310": true},
			want:     Plan{Kind: PlanHoliday, Trigger: at(9, 12, 0), EntryDate: at(10, 0, 0), WakeAt: at(10, 0, 0)},
		},
		{
			name:     "missed day with holiday after it",
			now:      at(9, 22, 0),
			holidays: holidaySet{"20260311": true},
			want:     Plan{Kind: PlanHoliday, Trigger: at(10, 12, 0), EntryDate: at(11, 0, 0), WakeAt: at(11, 0, 0), Missed: true},
		},
		{
			name: "exact trigger moves on",
			now:  at(9, 12, 0),
			want: Plan{Kind: PlanDispatch, Trigger: at(9, 20, 0), EntryDate: at(10, 0, 0), WakeAt: at(9, 19, 59).Add(50 * time.Second)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := w.Compute(t.Context(), tc.now, tc.holidays)
			assert.Equal(t, tc.want.Kind, got.Kind)
			assert.Equal(t, tc.want.Missed, got.Missed)
			assert.True(t, tc.want.Trigger.Equal(got.Trigger), "trigger %s", got.Trigger)
			assert.True(t, tc.want.EntryDate.Equal(got.EntryDate), "entry %s", got.EntryDate)
			assert.True(t, tc.want.WakeAt.Equal(got.WakeAt), "wake %s", got.WakeAt)
		})
	}
}

func TestComputeWindowUsesLocation(t *testing.T) {
	t.Parallel()

	w, err := NewWindow([]int{12}, cst, 0)
	require.NoError(t, err)
	// 03:30 UTC is 11:30 in CST, so noon is still ahead today.
	p := w.Compute(t.Context(), time.Date(2026, 3, 9, 3, 30, 0, 0, time.UTC), nil)
	assert.Equal(t, PlanDispatch, p.Kind)
	assert.True(t, p.Trigger.Equal(at(9, 12, 0)))
}

func TestNewWindowRejectsBadHour(t *testing.T) {
	t.Parallel()

	_, err := NewWindow([]int{12, 24}, cst, 0)
	require.Error(t, err)
}

func TestParseHours(t *testing.T) {
	t.Parallel()

	h, err := ParseHours(" 12, 20 ")
	require.NoError(t, err)
	assert.Equal(t, []int{12, 20}, h)

	for _, bad := range []string{"", ",", "noon", "25"} {
		_, err := ParseHours(bad)
		assert.Error(t, err, bad)
	}
}
