package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwaybot/internal/eventbus"
	"subwaybot/pkg/logx"
)

type fakeChannel struct {
	mu    sync.Mutex
	fails int
	got   []string
	calls int
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("down")
	}
	f.got = append(f.got, text)
	return nil
}

func (f *fakeChannel) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func TestServiceDeliversAndRecordsHistory(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "notifier.")
	defer unsub()

	s := New(Config{Enabled: true, RatePerSec: 100}, ch, logx.Nop(), bus)
	s.Start(t.Context())

	assert.True(t, s.Send("alice booking: succeeded"))
	assert.True(t, s.Send("bob booking: failed"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	assert.Equal(t, []string{"alice booking: succeeded", "bob booking: failed"}, ch.sent())
	require.Len(t, s.Snapshot(), 2)

	types := map[string]int{}
	for len(events) > 0 {
		types[(<-events).Type]++
	}
	assert.Equal(t, 2, types[eventbus.TypeNotifierQueued])
	assert.Equal(t, 2, types[eventbus.TypeNotifierSent])
}

func TestServiceFailureIsNotRetriedByDefault(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{fails: 1}
	s := New(Config{Enabled: true, RatePerSec: 100}, ch, logx.Nop(), nil)
	s.Start(t.Context())
	assert.True(t, s.Send("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	assert.Empty(t, ch.sent())
	h := s.Snapshot()
	require.Len(t, h, 1)
	assert.Equal(t, "down", h[0].Error)
}

func TestServiceRetries(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{fails: 2}
	s := New(Config{Enabled: true, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, ch, logx.Nop(), nil)
	s.Start(t.Context())
	assert.True(t, s.Send("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Equal(t, []string{"x"}, ch.sent())
}

func TestServiceDisabledOrStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, &fakeChannel{}, logx.Nop(), nil)
	s.Start(t.Context())
	assert.ErrorIs(t, s.Notify(t.Context(), "x"), ErrDisabled)
	assert.False(t, s.Send("x"))

	s = New(Config{Enabled: true}, nil, logx.Nop(), nil)
	s.Start(t.Context())
	assert.ErrorIs(t, s.Notify(t.Context(), "x"), ErrNoChannel)

	s = New(Config{Enabled: true}, &fakeChannel{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Notify(t.Context(), "x"), ErrStopped)
}

func TestRetryDelayIsCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}
