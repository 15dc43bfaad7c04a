package config

import (
	"reflect"
	"sort"
	"strings"

	logx "subwaybot/pkg/logx"
)

// AccountDiff lists account names by kind of change. Tokens are compared but
// never reported.
type AccountDiff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

func (d AccountDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// SummarizeChange returns the changed sections, safe structured attrs for
// logging (never secrets) and the per-account diff.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, AccountDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	accounts := diffAccounts(oldCfg.Accounts, newCfg.Accounts)
	if !accounts.Empty() {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.Int("accounts.active", len(newCfg.Active())))
	}

	if oldCfg.NotifierToken != newCfg.NotifierToken ||
		oldCfg.NotifierSecret != newCfg.NotifierSecret ||
		oldCfg.Channel() != newCfg.Channel() ||
		!reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.channel", newCfg.Channel()),
			logx.Bool("notifier.token_set", strings.TrimSpace(newCfg.NotifierToken) != ""),
			logx.Bool("notifier.secret_set", strings.TrimSpace(newCfg.NotifierSecret) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Booking, newCfg.Booking) {
		changed = append(changed, "booking")
		attrs = append(attrs,
			logx.Int("booking.frequency", newCfg.Booking.Frequency),
			logx.String("booking.interval", newCfg.Booking.Interval),
			logx.String("booking.timezone", newCfg.Booking.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Calendar, newCfg.Calendar) {
		changed = append(changed, "calendar")
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
	}

	sort.Strings(changed)
	return changed, attrs, accounts
}

func diffAccounts(oldA, newA []Account) AccountDiff {
	oldM := make(map[string]Account, len(oldA))
	for _, a := range oldA {
		oldM[a.Name] = a
	}
	newM := make(map[string]Account, len(newA))
	for _, a := range newA {
		newM[a.Name] = a
	}

	var d AccountDiff
	for name, n := range newM {
		o, ok := oldM[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case o != n:
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}
