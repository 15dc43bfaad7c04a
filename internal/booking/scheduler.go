package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"subwaybot/internal/config"
	"subwaybot/internal/eventbus"
	"subwaybot/internal/guard"
	"subwaybot/internal/metro"
	"subwaybot/internal/storage"
	"subwaybot/internal/token"
	"subwaybot/pkg/logx"
)

const DefaultMaxConcurrency = 5

// Source yields the current configuration snapshot.
type Source interface {
	Get() *config.Config
}

// Sender delivers operator messages without blocking.
type Sender interface {
	Send(text string) bool
}

// RemoteFactory builds the booking API client for one account.
type RemoteFactory func(acct config.Account, b config.Booking) Remote

// MetroRemote is the production RemoteFactory.
func MetroRemote(log logx.Logger) RemoteFactory {
	return func(acct config.Account, b config.Booking) Remote {
		return metro.New(acct.Token,
			metro.WithBaseURL(b.BaseURL),
			metro.WithTimeouts(b.Timeouts),
			metro.WithLogger(log.With(logx.String("account", acct.Name))),
		)
	}
}

type Options struct {
	Hours          []int
	MaxConcurrency int
	// Notify forwards per-account results to Sender.
	Notify bool

	Gate   HolidayChecker
	Guard  *guard.Guard
	Sender Sender
	Store  storage.Store
	Bus    eventbus.Bus
	Remote RemoteFactory
	Clock  Clock
	Logger logx.Logger
}

// CycleSummary describes the last finished dispatch.
type CycleSummary struct {
	ID        string    `json:"id"`
	Trigger   time.Time `json:"trigger"`
	EntryDate string    `json:"entryDate"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Succeeded []string  `json:"succeeded"`
	Failed    []string  `json:"failed"`
	Skipped   []string  `json:"skipped,omitempty"`
}

// Status is the scheduler view served by the status surface.
type Status struct {
	Hours          []int         `json:"hours"`
	MaxConcurrency int           `json:"maxConcurrency"`
	Notify         bool          `json:"notify"`
	State          string        `json:"state"`
	Plan           *Plan         `json:"plan,omitempty"`
	Ledger         []string      `json:"ledger"`
	LastCycle      *CycleSummary `json:"lastCycle,omitempty"`
}

// Scheduler is the top-level booking loop. Run it once.
type Scheduler struct {
	src   Source
	opts  Options
	log   logx.Logger
	clock Clock

	ledger *Ledger
	guard  *guard.Guard

	mu    sync.Mutex
	state string
	plan  *Plan
	last  *CycleSummary
}

func NewScheduler(src Source, opts Options) *Scheduler {
	if len(opts.Hours) == 0 {
		opts.Hours = DefaultHours
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	if opts.Remote == nil {
		opts.Remote = MetroRemote(opts.Logger)
	}
	if opts.Guard == nil {
		opts.Guard = guard.New(0)
	}
	return &Scheduler{
		src:    src,
		opts:   opts,
		log:    opts.Logger,
		clock:  opts.Clock,
		ledger: NewLedger(),
		guard:  opts.Guard,
		state:  "idle",
	}
}

func (s *Scheduler) Ledger() *Ledger { return s.ledger }

// Reload drops state derived from the previous configuration.
func (s *Scheduler) Reload() {
	n := s.ledger.Reset()
	s.guard.Reset()
	s.log.Info("config changed, ledger and expiry alerts reset", logx.Int("ledger.cleared", n))
}

// Run cycles until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		logx.Any("hours", s.opts.Hours),
		logx.Int("max_concurrency", s.opts.MaxConcurrency),
		logx.Bool("notify", s.opts.Notify),
	)
	for ctx.Err() == nil {
		s.Step(ctx)
	}
	s.setState("stopped", nil)
	return nil
}

// Step runs one Idle-to-Idle pass: plan, wait, and dispatch when the plan
// says so.
func (s *Scheduler) Step(ctx context.Context) {
	b := s.booking()
	win, err := NewWindow(s.opts.Hours, b.Location, b.Lead)
	if err != nil {
		s.log.Error("invalid trigger hours", logx.Err(err))
		_ = s.clock.Sleep(ctx, time.Minute)
		return
	}

	s.setState("planning", nil)
	plan := win.Compute(ctx, s.clock.Now(), s.opts.Gate)
	s.setState("waiting", &plan)
	s.publish(eventbus.TypeBookingPlan, plan)

	// Both kinds sleep into a later day without dispatching again today.
	if plan.Kind != PlanDispatch {
		if n := s.ledger.Reset(); n > 0 {
			s.log.Debug("ledger cleared for a new day", logx.Int("cleared", n))
		}
	}
	switch plan.Kind {
	case PlanHoliday:
		s.log.Info("entry date is a holiday, no booking",
			logx.String("entry_date", plan.EntryDate.Format("2006-01-02")),
			logx.Time("wake_at", plan.WakeAt))
	case PlanMissed:
		s.log.Info("today's booking window has passed, waiting for tomorrow",
			logx.Time("next_trigger", plan.Trigger))
	default:
		s.log.Info("next booking window",
			logx.Time("trigger", plan.Trigger),
			logx.String("entry_date", plan.EntryDate.Format("2006-01-02")))
	}

	if err := s.clock.SleepUntil(ctx, plan.WakeAt); err != nil {
		return
	}
	if plan.Kind != PlanDispatch {
		return
	}
	s.setState("dispatching", &plan)
	s.Dispatch(ctx, plan)
	// A cycle can end before its trigger (nothing eligible, all pre-booked);
	// planning again earlier would pick the same trigger.
	_ = s.clock.SleepUntil(ctx, plan.Trigger.Add(time.Second))
	s.setState("idle", nil)
}

// Dispatch runs one account task per eligible account and waits for all of
// them. It returns the outcomes in account order.
func (s *Scheduler) Dispatch(ctx context.Context, plan Plan) []Outcome {
	cfg := s.src.Get()
	b := s.booking()
	now := s.clock.Now()

	summary := &CycleSummary{
		ID:        uuid.NewString(),
		Trigger:   plan.Trigger,
		EntryDate: plan.EntryDate.Format("20060102"),
		Started:   now,
	}
	log := s.log.With(logx.String("cycle", summary.ID))

	var eligible []config.Account
	for _, acct := range cfg.Active() {
		if !token.IsValid(acct.Token, now) {
			log.Warn("account skipped", logx.String("account", acct.Name),
				logx.Err(fmt.Errorf("%s: %w", acct.Name, ErrCredentialExpired)))
			summary.Skipped = append(summary.Skipped, acct.Name)
			continue
		}
		if s.ledger.Has(acct.Name) {
			log.Debug("account already booked today", logx.String("account", acct.Name))
			summary.Skipped = append(summary.Skipped, acct.Name)
			continue
		}
		eligible = append(eligible, acct)
	}
	log.Info("dispatching", logx.Int("accounts", len(eligible)), logx.Int("skipped", len(summary.Skipped)))

	params := TaskParams{
		CycleID:      summary.ID,
		Start:        plan.Trigger,
		EntryDate:    plan.EntryDate,
		Frequency:    b.Frequency,
		Interval:     b.Interval,
		CheckTimeout: b.Timeouts.Reservation,
		FinalTimeout: b.Timeouts.FinalCheck,
	}

	sem := semaphore.NewWeighted(int64(s.opts.MaxConcurrency))
	outcomes := make([]Outcome, len(eligible))
	var wg sync.WaitGroup
	for i, acct := range eligible {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = Outcome{CycleID: summary.ID, Name: acct.Name, Station: acct.StationName, Slot: acct.TimeSlot,
					EntryDate: summary.EntryDate, Started: now, Finished: s.clock.Now(), Trace: []string{"not started: " + err.Error()}}
				return
			}
			defer sem.Release(1)
			outcomes[i] = RunAccountTask(ctx, acct, s.opts.Remote(acct, b), s.clock, params, log)
		}()
	}
	wg.Wait()

	s.collect(ctx, log, outcomes)

	for _, o := range outcomes {
		if o.Succeeded {
			summary.Succeeded = append(summary.Succeeded, o.Name)
		} else {
			summary.Failed = append(summary.Failed, o.Name)
		}
	}
	summary.Finished = s.clock.Now()
	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()
	s.publish(eventbus.TypeBookingCycle, *summary)
	log.Info("cycle finished",
		logx.Int("succeeded", len(summary.Succeeded)),
		logx.Int("failed", len(summary.Failed)),
		logx.Duration("took", summary.Finished.Sub(summary.Started)))
	return outcomes
}

func (s *Scheduler) collect(ctx context.Context, log logx.Logger, outcomes []Outcome) {
	for _, o := range outcomes {
		if o.Succeeded {
			s.ledger.Add(o.Name)
		}
		if s.opts.Store != nil {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := s.opts.Store.AppendOutcome(sctx, record(o)); err != nil {
				log.Warn("outcome not stored", logx.String("account", o.Name), logx.Err(err))
			}
			cancel()
		}
		s.publish(eventbus.TypeBookingOutcome, o)

		msg := o.Name + " booking: " + resultWord(o.Succeeded)
		log.Info(msg, logx.Int("rounds", o.Rounds), logx.Int("attempts", o.Attempts))
		if s.opts.Notify && s.opts.Sender != nil {
			s.opts.Sender.Send(msg)
		}
	}
}

func resultWord(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}

func record(o Outcome) storage.OutcomeRecord {
	return storage.OutcomeRecord{
		ID:         uuid.NewString(),
		CycleID:    o.CycleID,
		Account:    o.Name,
		Station:    o.Station,
		Slot:       o.Slot,
		EntryDate:  o.EntryDate,
		Succeeded:  o.Succeeded,
		Rounds:     o.Rounds,
		Attempts:   o.Attempts,
		StartedAt:  o.Started,
		FinishedAt: o.Finished,
		Trace:      o.Trace,
	}
}

// booking resolves the current booking section, falling back to defaults.
func (s *Scheduler) booking() config.Booking {
	var bc config.BookingConfig
	if cfg := s.src.Get(); cfg != nil {
		bc = cfg.Booking
	}
	b, err := bc.Resolve()
	if err != nil {
		s.log.Warn("booking section invalid, using defaults", logx.Err(err))
		b, _ = config.BookingConfig{}.Resolve()
	}
	return b
}

func (s *Scheduler) setState(state string, plan *Plan) {
	s.mu.Lock()
	s.state = state
	if plan != nil {
		p := *plan
		s.plan = &p
	}
	s.mu.Unlock()
}

func (s *Scheduler) publish(typ string, data any) {
	if s.opts.Bus == nil {
		return
	}
	s.opts.Bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Hours:          append([]int(nil), s.opts.Hours...),
		MaxConcurrency: s.opts.MaxConcurrency,
		Notify:         s.opts.Notify,
		State:          s.state,
		Ledger:         s.ledger.Names(),
	}
	if s.plan != nil {
		p := *s.plan
		st.Plan = &p
	}
	if s.last != nil {
		c := *s.last
		st.LastCycle = &c
	}
	return st
}
