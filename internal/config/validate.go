package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"subwaybot/internal/metro"
	"subwaybot/internal/token"
)

// ErrInvalid marks configuration that must not be adopted.
var ErrInvalid = errors.New("config invalid")

// ValidationError lists every problem found in one pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return ErrInvalid.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Validate checks cfg at now. Disabled accounts are exempt from field and
// expiry checks but still take part in the name uniqueness check.
func Validate(cfg *Config, now time.Time) error {
	if cfg == nil {
		return &ValidationError{Problems: []string{"config is empty"}}
	}
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if len(cfg.Accounts) == 0 {
		add("accounts: at least one account is required")
	}

	seen := map[string]int{}
	for i, a := range cfg.Accounts {
		name := strings.TrimSpace(a.Name)
		where := fmt.Sprintf("accounts[%d]", i)
		if name != "" {
			where = fmt.Sprintf("accounts[%d] (%s)", i, name)
			if j, dup := seen[name]; dup {
				add("%s: name duplicates accounts[%d]", where, j)
			}
			seen[name] = i
		}
		if a.Disabled {
			continue
		}
		if name == "" {
			add("%s: name is required", where)
		}
		if strings.TrimSpace(a.LineName) == "" {
			add("%s: lineName is required", where)
		}
		if strings.TrimSpace(a.StationName) == "" {
			add("%s: stationName is required", where)
		}
		if strings.TrimSpace(a.TimeSlot) == "" {
			add("%s: timeSlot is required", where)
		} else if _, err := metro.ParseSlot(a.TimeSlot); err != nil {
			add("%s: %v", where, err)
		}
		switch {
		case strings.TrimSpace(a.Token) == "":
			add("%s: token is required", where)
		case !token.IsValid(a.Token, now):
			add("%s: token has expired", where)
		}
	}

	switch cfg.Channel() {
	case "dingtalk", "lark", "telegram":
	default:
		add("notifierChannel: unknown channel %q", cfg.NotifierChannel)
	}

	if _, err := cfg.Booking.Resolve(); err != nil {
		add("%v", err)
	}
	if _, _, err := cfg.Calendar.Resolve(); err != nil {
		add("%v", err)
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3", "postgres", "postgresql":
		default:
			add("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
