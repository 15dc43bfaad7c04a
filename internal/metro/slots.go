package metro

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Slot is a booking time range. Code is the wire form ("0630-0640"); Start
// and End are "HH:MM".
type Slot struct {
	Code  string `json:"code"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Label is the human form, e.g. "06:30 ~ 06:40".
func (s Slot) Label() string { return s.Start + " ~ " + s.End }

// ParseSlot validates a HHMM-HHMM code.
func ParseSlot(code string) (Slot, error) {
	code = strings.TrimSpace(code)
	a, b, ok := strings.Cut(code, "-")
	if !ok {
		return Slot{}, fmt.Errorf("slot %q: want HHMM-HHMM", code)
	}
	start, err := parseHHMM(a)
	if err != nil {
		return Slot{}, fmt.Errorf("slot %q: %w", code, err)
	}
	end, err := parseHHMM(b)
	if err != nil {
		return Slot{}, fmt.Errorf("slot %q: %w", code, err)
	}
	if end <= start {
		return Slot{}, fmt.Errorf("slot %q: end must be after start", code)
	}
	return Slot{Code: code, Start: a[:2] + ":" + a[2:], End: b[:2] + ":" + b[2:]}, nil
}

func parseHHMM(s string) (time.Duration, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("%q is not HHMM", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q: invalid hour", s)
	}
	m, err := strconv.Atoi(s[2:])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q: invalid minute", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// TimeSlots enumerates consecutive slots of width step between start and end
// ("HH:MM"). The last slot ends at or before end.
func TimeSlots(start, end string, step time.Duration) ([]Slot, error) {
	if step <= 0 {
		step = 10 * time.Minute
	}
	from, err := time.Parse("15:04", start)
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", start, err)
	}
	to, err := time.Parse("15:04", end)
	if err != nil {
		return nil, fmt.Errorf("end %q: %w", end, err)
	}

	var out []Slot
	for cur := from; cur.Before(to); cur = cur.Add(step) {
		next := cur.Add(step)
		if next.After(to) {
			break
		}
		out = append(out, Slot{
			Code:  cur.Format("1504") + "-" + next.Format("1504"),
			Start: cur.Format("15:04"),
			End:   next.Format("15:04"),
		})
	}
	return out, nil
}

// MorningSlots is TimeSlots over the bookable morning window.
func MorningSlots() []Slot {
	s, _ := TimeSlots("06:30", "09:30", 10*time.Minute)
	return s
}
