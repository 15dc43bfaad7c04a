package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwaybot/internal/metro"
	"subwaybot/internal/token"
	"subwaybot/pkg/logx"
)

var now = time.Date(2026, 3, 16, 9, 0, 0, 0, time.Local)

func validAccount(name string) Account {
	return Account{
		Name:        name,
		Token:       token.Encode(name, now.Add(30*24*time.Hour)),
		LineName:    "昌平线",
		StationName: "沙河站",
		TimeSlot:    "0630-0640",
	}
}

func writeConfig(t *testing.T, path string, cfg any) {
	t.Helper()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
}

func newManager(t *testing.T, path string) *Manager {
	t.Helper()
	m := NewManager(path)
	m.now = func() time.Time { return now }
	return m
}

func TestValidate(t *testing.T) {
	t.Parallel()
	expired := validAccount("old")
	expired.Token = token.Encode("old", now.Add(-time.Hour))
	disabledBroken := Account{Name: "off", Disabled: true}
	noToken := validAccount("nt")
	noToken.Token = ""
	badSlot := validAccount("bs")
	badSlot.TimeSlot = "630-640"

	tests := []struct {
		name    string
		cfg     *Config
		problem string
	}{
		{name: "ok", cfg: &Config{Accounts: []Account{validAccount("a"), disabledBroken}}},
		{name: "empty", cfg: &Config{}, problem: "at least one account"},
		{name: "missing token", cfg: &Config{Accounts: []Account{noToken}}, problem: "token is required"},
		{name: "expired", cfg: &Config{Accounts: []Account{expired}}, problem: "token has expired"},
		{name: "bad slot", cfg: &Config{Accounts: []Account{badSlot}}, problem: "is not HHMM"},
		{name: "duplicate", cfg: &Config{Accounts: []Account{validAccount("a"), validAccount("a")}}, problem: "duplicates"},
		{name: "channel", cfg: &Config{NotifierChannel: "smoke", Accounts: []Account{validAccount("a")}}, problem: "unknown channel"},
		{name: "duration", cfg: &Config{Accounts: []Account{validAccount("a")}, Booking: BookingConfig{Interval: "soon"}}, problem: "booking.interval"},
		{name: "driver", cfg: &Config{Accounts: []Account{validAccount("a")}, Storage: &StorageConfig{Driver: "mongo"}}, problem: "storage.driver"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.cfg, now)
			if tt.problem == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestCheckRejectsInvalidAndKeepsSnapshot(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, Config{Accounts: []Account{validAccount("alice")}})

	var logs bytes.Buffer
	m := newManager(t, path)
	m.SetLogger(logx.NewWriter(&logs, "debug"))
	first, err := m.Load(t.Context())
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	broken := validAccount("alice")
	broken.Token = ""
	writeConfig(t, path, Config{Accounts: []Account{broken}})

	err = m.Check(t.Context())
	require.ErrorIs(t, err, ErrInvalid)
	assert.Same(t, first, m.Get())
	assert.Contains(t, logs.String(), "config rejected")
	assert.Len(t, sub, 0)

	// Same bad bytes are not re-validated.
	assert.ErrorIs(t, m.Check(t.Context()), ErrUnchanged)
}

func TestCheckAdoptsValidChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, Config{Accounts: []Account{validAccount("alice")}})

	m := newManager(t, path)
	_, err := m.Load(t.Context())
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	assert.ErrorIs(t, m.Check(t.Context()), ErrUnchanged)

	writeConfig(t, path, Config{Accounts: []Account{validAccount("alice"), validAccount("bob")}})
	require.NoError(t, m.Check(t.Context()))
	require.Len(t, m.Get().Accounts, 2)

	select {
	case got := <-sub:
		assert.Same(t, m.Get(), got)
	default:
		t.Fatal("expected published config")
	}
}

func TestLoadFailsOnInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"accounts":[],"extra":1}`), 0o600))

	_, err := newManager(t, path).Load(t.Context())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeYAMLAndStrictness(t *testing.T) {
	t.Parallel()
	yml := []byte(`
notifierToken: https://example.invalid/hook
accounts:
  - name: alice
    token: abc
    lineName: 昌平线
    stationName: 沙河站
    timeSlot: "0630-0640"
booking:
  frequency: 3
  interval: 500ms
`)
	cfg, err := Decode("c.yaml", yml)
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "0630-0640", cfg.Accounts[0].TimeSlot)
	assert.Equal(t, 3, cfg.Booking.Frequency)

	_, err = Decode("c.json", []byte(`{"accounts":[],"bogus":true}`))
	assert.Error(t, err)
	_, err = Decode("c.json", []byte(`{"accounts":[]}{"accounts":[]}`))
	assert.Error(t, err)
}

func TestBookingResolveDefaults(t *testing.T) {
	t.Parallel()
	b, err := BookingConfig{}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, DefaultFrequency, b.Frequency)
	assert.Equal(t, time.Second, b.Interval)
	assert.Equal(t, 10*time.Second, b.Lead)
	assert.Equal(t, metro.DefaultTimeouts(), b.Timeouts)
	assert.Equal(t, 5*time.Second, b.Timeouts.FinalCheck)

	b, err = BookingConfig{Timeouts: TimeoutsConfig{FinalCheck: "8s"}}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, b.Timeouts.FinalCheck)
	assert.Equal(t, 2*time.Second, b.Timeouts.Reservation)
	assert.Equal(t, time.Local, b.Location)

	_, err = BookingConfig{Timezone: "Mars/Olympus"}.Resolve()
	assert.Error(t, err)
}

func TestSummarizeChangeNeverLeaksTokens(t *testing.T) {
	t.Parallel()
	a := validAccount("alice")
	b := validAccount("bob")
	a2 := a
	a2.Token = token.Encode("alice2", now.Add(48*time.Hour))
	c := validAccount("carol")

	sections, attrs, diff := SummarizeChange(
		&Config{Accounts: []Account{a, b}},
		&Config{Accounts: []Account{a2, c}, NotifierToken: "secret-hook"},
	)
	assert.Equal(t, []string{"accounts", "notifier"}, sections)
	assert.Equal(t, AccountDiff{Added: []string{"carol"}, Removed: []string{"bob"}, Changed: []string{"alice"}}, diff)

	var buf bytes.Buffer
	logx.NewWriter(&buf, "info").Info("x", attrs...)
	assert.NotContains(t, buf.String(), a2.Token)
	assert.NotContains(t, buf.String(), "secret-hook")
}
