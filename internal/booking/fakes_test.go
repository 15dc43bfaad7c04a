package booking

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"subwaybot/internal/config"
	"subwaybot/internal/metro"
	"subwaybot/internal/storage"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	untils []time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) SleepUntil(ctx context.Context, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.untils = append(c.untils, t)
	if t.After(c.now) {
		c.now = t
	}
	return ctx.Err()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return ctx.Err()
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

// fakeRemote answers from callbacks; nil callbacks mean "no".
type fakeRemote struct {
	has     func(call int) bool
	balance func(call int) []metro.Availability
	attempt func() bool

	hasCalls     atomic.Int64
	balanceCalls atomic.Int64
	attemptCalls atomic.Int64

	mu       sync.Mutex
	timeouts []time.Duration
}

func (r *fakeRemote) HasReservation(_ context.Context, _ metro.Target, timeout time.Duration) bool {
	r.mu.Lock()
	r.timeouts = append(r.timeouts, timeout)
	r.mu.Unlock()
	n := int(r.hasCalls.Add(1))
	return r.has != nil && r.has(n)
}

func (r *fakeRemote) Balance(_ context.Context, _ metro.Target) []metro.Availability {
	n := int(r.balanceCalls.Add(1))
	if r.balance == nil {
		return nil
	}
	return r.balance(n)
}

func (r *fakeRemote) Attempt(_ context.Context, _ metro.Target) bool {
	r.attemptCalls.Add(1)
	return r.attempt != nil && r.attempt()
}

// checkTimeouts returns the timeouts HasReservation was called with.
func (r *fakeRemote) checkTimeouts() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.timeouts...)
}

type staticSource struct {
	mu  sync.Mutex
	cfg *config.Config
}

func (s *staticSource) Get() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (s *recordingSender) Send(text string) bool {
	s.mu.Lock()
	s.msgs = append(s.msgs, text)
	s.mu.Unlock()
	return true
}

func (s *recordingSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

type memStore struct {
	mu   sync.Mutex
	recs []storage.OutcomeRecord
}

func (m *memStore) AppendOutcome(_ context.Context, r storage.OutcomeRecord) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}

func (m *memStore) RecentOutcomes(_ context.Context, limit int) ([]storage.OutcomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.OutcomeRecord(nil), m.recs...), nil
}

func (m *memStore) Close() error { return nil }

type holidaySet map[string]bool

func (h holidaySet) IsHoliday(_ context.Context, d time.Time) bool {
	return h[d.Format("20060102")]
}
