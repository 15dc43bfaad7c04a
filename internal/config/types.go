package config

// Config is the on-disk configuration. JSON keys are camelCase; YAML files
// use the same keys.
type Config struct {
	// NotifierToken is the webhook URL (dingtalk, lark) or bot token (telegram).
	NotifierToken string `json:"notifierToken"`
	// NotifierSecret signs webhook requests, or holds the telegram chat id.
	NotifierSecret string `json:"notifierSecret"`
	// NotifierChannel is one of dingtalk (default), lark, telegram.
	NotifierChannel string `json:"notifierChannel,omitempty"`

	Accounts []Account `json:"accounts"`

	Booking  BookingConfig   `json:"booking,omitempty"`
	Calendar CalendarConfig  `json:"calendar,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Logging  LoggingConfig   `json:"logging,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Status   StatusConfig    `json:"status,omitempty"`
}

// Account is one booking participant.
type Account struct {
	Name        string `json:"name"`
	Token       string `json:"token"`
	LineName    string `json:"lineName"`
	StationName string `json:"stationName"`
	// TimeSlot is HHMM-HHMM, e.g. "0630-0640".
	TimeSlot string `json:"timeSlot"`
	Disabled bool   `json:"disabled,omitempty"`
}

// BookingConfig tunes the daily run. Durations are Go duration strings.
//
// Defaults:
//   - frequency: 7
//   - interval: "1s"
//   - lead: "10s" (wake-up ahead of the trigger hour)
//   - sweepInterval: "1h"
//   - expiryWarning: "24h"
//   - timezone: local
type BookingConfig struct {
	Frequency     int            `json:"frequency,omitempty"`
	Interval      string         `json:"interval,omitempty"`
	Lead          string         `json:"lead,omitempty"`
	SweepInterval string         `json:"sweepInterval,omitempty"`
	ExpiryWarning string         `json:"expiryWarning,omitempty"`
	Timezone      string         `json:"timezone,omitempty"`
	BaseURL       string         `json:"baseURL,omitempty"`
	Timeouts      TimeoutsConfig `json:"timeouts,omitempty"`
}

type TimeoutsConfig struct {
	Reservation string `json:"reservation,omitempty"`
	Balance     string `json:"balance,omitempty"`
	Attempt     string `json:"attempt,omitempty"`
	FinalCheck  string `json:"finalCheck,omitempty"`
}

// CalendarConfig controls the holiday lookup.
//
// Enabled is a pointer so an omitted section means enabled.
type CalendarConfig struct {
	Enabled  *bool    `json:"enabled,omitempty"`
	URL      string   `json:"url,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
	CacheTTL string   `json:"cacheTTL,omitempty"`
	Holidays []string `json:"holidays,omitempty"`
	Workdays []string `json:"workdays,omitempty"`
	// FallbackHoliday is used when the lookup fails. Default false.
	FallbackHoliday bool         `json:"fallbackHoliday,omitempty"`
	Redis           *RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
//
// Defaults: workers 1, queueSize 128, ratePerSec 1, retryMax 0,
// retryBase "500ms", retryMaxDelay "10s", historySize 300, timeout "5s".
type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queueSize,omitempty"`
	RatePerSec    int    `json:"ratePerSec,omitempty"`
	RetryMax      int    `json:"retryMax,omitempty"`
	RetryBase     string `json:"retryBase,omitempty"`
	RetryMaxDelay string `json:"retryMaxDelay,omitempty"`
	HistorySize   int    `json:"historySize,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}

// StorageConfig enables the outcome audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./subwaybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busyTimeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"`
	File    LoggingFile   `json:"file,omitempty"`
	Stream  LoggingStream `json:"stream,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingStream sizes the in-process ring of recent structured lines.
type LoggingStream struct {
	Buffer int `json:"buffer,omitempty"`
}

// StatusConfig controls the read-only HTTP status surface.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8087"
	// Token is required when Addr is not a loopback address.
	Token string `json:"token,omitempty"`
	// Debug mounts pprof under /debug.
	Debug bool `json:"debug,omitempty"`
}

// Active returns the accounts that are not disabled.
func (c *Config) Active() []Account {
	if c == nil {
		return nil
	}
	out := make([]Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		if !a.Disabled {
			out = append(out, a)
		}
	}
	return out
}
