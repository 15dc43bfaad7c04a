package booking

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"subwaybot/internal/config"
	"subwaybot/internal/metro"
	"subwaybot/pkg/logx"
)

var ErrCredentialExpired = errors.New("credential expired")

// attemptFanout is how many booking requests fire together in one round.
const attemptFanout = 3

// Remote is the booking API as seen by one account.
type Remote interface {
	HasReservation(ctx context.Context, t metro.Target, timeout time.Duration) bool
	Balance(ctx context.Context, t metro.Target) []metro.Availability
	Attempt(ctx context.Context, t metro.Target) bool
}

// TaskParams are the run parameters shared by every task of a cycle.
type TaskParams struct {
	CycleID   string
	Start     time.Time
	EntryDate time.Time
	Frequency int
	Interval  time.Duration
	// CheckTimeout bounds the reservation checks inside the loop,
	// FinalTimeout the authoritative one after it.
	CheckTimeout time.Duration
	FinalTimeout time.Duration
}

// Outcome is what one account task reports back.
type Outcome struct {
	CycleID   string    `json:"cycleId"`
	Name      string    `json:"name"`
	Station   string    `json:"station"`
	Slot      string    `json:"slot"`
	EntryDate string    `json:"entryDate"`
	Succeeded bool      `json:"succeeded"`
	Rounds    int       `json:"rounds"`
	Attempts  int       `json:"attempts"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Trace     []string  `json:"trace,omitempty"`
}

type tracer struct {
	log   logx.Logger
	clock Clock
	lines []string
}

func (t *tracer) info(msg string, fields ...logx.Field) {
	t.lines = append(t.lines, t.clock.Now().Format("15:04:05.000")+" "+msg)
	t.log.Info(msg, fields...)
}

// RunAccountTask races for acct's reservation. It never panics; a panic
// inside becomes a failed outcome.
func RunAccountTask(ctx context.Context, acct config.Account, remote Remote, clock Clock, p TaskParams, log logx.Logger) (out Outcome) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if p.Frequency <= 0 {
		p.Frequency = config.DefaultFrequency
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	log = log.With(logx.String("account", acct.Name), logx.String("cycle", p.CycleID))

	target := metro.Target{
		Line:      acct.LineName,
		Station:   acct.StationName,
		Slot:      acct.TimeSlot,
		EntryDate: p.EntryDate,
	}
	tr := &tracer{log: log, clock: clock}
	var attempts atomic.Int64

	out = Outcome{
		CycleID:   p.CycleID,
		Name:      acct.Name,
		Station:   acct.StationName,
		Slot:      acct.TimeSlot,
		EntryDate: p.EntryDate.Format("20060102"),
		Started:   clock.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("account task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			tr.lines = append(tr.lines, fmt.Sprintf("panic: %v", r))
			out.Succeeded = false
		}
		out.Attempts = int(attempts.Load())
		out.Trace = tr.lines
		out.Finished = clock.Now()
	}()

	if remote.HasReservation(ctx, target, p.CheckTimeout) {
		tr.info("reservation already exists, nothing to do")
		out.Succeeded = true
		return out
	}

	if err := clock.SleepUntil(ctx, p.Start); err != nil {
		log.Debug("wait for start interrupted", logx.Err(err))
	}

	loopOK := false
	for round := 0; round < p.Frequency; round++ {
		out.Rounds = round + 1

		avail := remote.Balance(ctx, target)
		if remote.HasReservation(ctx, target, p.CheckTimeout) {
			tr.info("reservation confirmed", logx.Int("round", round+1))
			loopOK = true
			break
		}

		if len(avail) > 0 || round == 0 {
			tr.info("tickets available, attempting",
				logx.Int("round", round+1), logx.Int("remaining", remaining(avail)))

			var (
				g        errgroup.Group
				accepted atomic.Int64
			)
			for i := 0; i < attemptFanout; i++ {
				g.Go(func() error {
					attempts.Add(1)
					if remote.Attempt(ctx, target) {
						accepted.Add(1)
					}
					return nil
				})
			}
			_ = g.Wait()
			tr.info(fmt.Sprintf("round %d: %d of %d attempts accepted", round+1, accepted.Load(), attemptFanout),
				logx.Int("round", round+1), logx.Int64("accepted", accepted.Load()))

			if remote.HasReservation(ctx, target, p.CheckTimeout) {
				tr.info("reservation confirmed", logx.Int("round", round+1))
				loopOK = true
				break
			}
		} else {
			tr.info("no tickets left", logx.Int("round", round+1))
		}

		if err := clock.Sleep(ctx, p.Interval); err != nil {
			log.Debug("retry sleep interrupted", logx.Err(err))
		}
	}
	if !loopOK {
		tr.info("retry budget exhausted without a reservation", logx.Int("rounds", p.Frequency))
	}

	// Peak-hour timeouts make the loop's view unreliable; this check decides.
	out.Succeeded = remote.HasReservation(ctx, target, p.FinalTimeout)
	if out.Succeeded != loopOK {
		tr.info("final check overrides loop result", logx.Bool("final", out.Succeeded), logx.Bool("loop", loopOK))
	}
	return out
}

func remaining(avail []metro.Availability) int {
	n := 0
	for _, a := range avail {
		n += a.Remaining
	}
	return n
}
