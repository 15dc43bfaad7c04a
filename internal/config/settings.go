package config

import (
	"fmt"
	"strings"
	"time"

	"subwaybot/internal/calendar"
	"subwaybot/internal/metro"
	"subwaybot/pkg/logx"
)

const (
	DefaultFrequency     = 7
	DefaultInterval      = time.Second
	DefaultLead          = 10 * time.Second
	DefaultSweepInterval = time.Hour
	DefaultExpiryWarning = 24 * time.Hour
	DefaultStatusAddr    = "127.0.0.1:8087"
)

// Booking is BookingConfig with defaults applied and durations parsed.
type Booking struct {
	Frequency     int
	Interval      time.Duration
	Lead          time.Duration
	SweepInterval time.Duration
	ExpiryWarning time.Duration
	Location      *time.Location
	BaseURL       string
	Timeouts      metro.Timeouts
}

func (b BookingConfig) Resolve() (Booking, error) {
	var p durations
	out := Booking{
		Frequency:     b.Frequency,
		Interval:      p.get("booking.interval", b.Interval, DefaultInterval),
		Lead:          p.get("booking.lead", b.Lead, DefaultLead),
		SweepInterval: p.get("booking.sweepInterval", b.SweepInterval, DefaultSweepInterval),
		ExpiryWarning: p.get("booking.expiryWarning", b.ExpiryWarning, DefaultExpiryWarning),
		Location:      time.Local,
		BaseURL:       strings.TrimSpace(b.BaseURL),
		Timeouts: metro.Timeouts{
			Reservation: p.get("booking.timeouts.reservation", b.Timeouts.Reservation, 0),
			Balance:     p.get("booking.timeouts.balance", b.Timeouts.Balance, 0),
			Attempt:     p.get("booking.timeouts.attempt", b.Timeouts.Attempt, 0),
			FinalCheck:  p.get("booking.timeouts.finalCheck", b.Timeouts.FinalCheck, 0),
		}.WithDefaults(),
	}
	if p.err != nil {
		return Booking{}, p.err
	}
	if out.Frequency < 0 {
		return Booking{}, fmt.Errorf("booking.frequency: must be >= 0")
	}
	if out.Frequency == 0 {
		out.Frequency = DefaultFrequency
	}
	if out.BaseURL == "" {
		out.BaseURL = metro.DefaultBaseURL
	}
	if tz := strings.TrimSpace(b.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Booking{}, fmt.Errorf("booking.timezone: %w", err)
		}
		out.Location = loc
	}
	return out, nil
}

// Calendar converts the section into gate and optional redis settings.
func (c CalendarConfig) Resolve() (calendar.Config, *calendar.RedisConfig, error) {
	var p durations
	out := calendar.Config{
		Enabled:         c.Enabled == nil || *c.Enabled,
		URL:             strings.TrimSpace(c.URL),
		Timeout:         p.get("calendar.timeout", c.Timeout, calendar.DefaultTimeout),
		CacheTTL:        p.get("calendar.cacheTTL", c.CacheTTL, calendar.DefaultCacheTTL),
		Holidays:        c.Holidays,
		Workdays:        c.Workdays,
		FallbackHoliday: c.FallbackHoliday,
	}
	var rc *calendar.RedisConfig
	if c.Redis != nil && strings.TrimSpace(c.Redis.Addr) != "" {
		rc = &calendar.RedisConfig{
			Addr:     strings.TrimSpace(c.Redis.Addr),
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Timeout:  p.get("calendar.redis.timeout", c.Redis.Timeout, time.Second),
		}
	}
	if p.err != nil {
		return calendar.Config{}, nil, p.err
	}
	return out, rc, nil
}

// Logx builds the logging service config. A non-empty levelOverride wins over
// the configured level.
func (l LoggingConfig) Logx(levelOverride string) logx.Config {
	level := strings.TrimSpace(levelOverride)
	if level == "" {
		level = l.Level
	}
	if strings.TrimSpace(level) == "" {
		level = "INFO"
	}
	return logx.Config{
		Level:   level,
		Console: l.Console == nil || *l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		// The stream always runs; the section only sizes its ring.
		Stream: logx.StreamConfig{Enabled: true, Buffer: l.Stream.Buffer},
	}
}

func (s StatusConfig) ListenAddr() string {
	if a := strings.TrimSpace(s.Addr); a != "" {
		return a
	}
	return DefaultStatusAddr
}

// Channel returns the notifier channel name, defaulting to dingtalk.
func (c *Config) Channel() string {
	ch := strings.ToLower(strings.TrimSpace(c.NotifierChannel))
	if ch == "" {
		return "dingtalk"
	}
	return ch
}
