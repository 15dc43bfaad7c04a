package app

import (
	"fmt"
	"io"
	"time"

	"subwaybot/internal/config"
	"subwaybot/internal/token"
)

// AccountReport is the credential state of one account.
type AccountReport struct {
	Name      string
	Disabled  bool
	Valid     bool
	ExpiresAt time.Time
	Remaining time.Duration
}

// CheckReport is the result of `subwaybot check`.
type CheckReport struct {
	Path     string
	Accounts []AccountReport
	// Invalid is the validation error, nil when the file would be accepted.
	Invalid error
}

// CheckConfig decodes and validates the file at path without adopting it.
// A decode failure is returned as err; validation problems land in the
// report so token validity can still be shown.
func CheckConfig(path string, now time.Time) (CheckReport, error) {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return CheckReport{}, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	rep := CheckReport{Path: path, Invalid: config.Validate(cfg, now)}
	for _, a := range cfg.Accounts {
		r := AccountReport{
			Name:      a.Name,
			Disabled:  a.Disabled,
			Valid:     token.IsValid(a.Token, now),
			Remaining: token.Remaining(a.Token, now),
		}
		if token.Decode(a.Token) > 0 {
			r.ExpiresAt = token.ExpiresAt(a.Token)
		}
		rep.Accounts = append(rep.Accounts, r)
	}
	return rep, nil
}

// Print writes a human readable report.
func (r CheckReport) Print(w io.Writer) {
	fmt.Fprintf(w, "config: %s\n", r.Path)
	for _, a := range r.Accounts {
		state := "valid"
		switch {
		case a.Disabled:
			state = "disabled"
		case !a.Valid:
			state = "EXPIRED"
		}
		line := fmt.Sprintf("  %-16s %-8s", a.Name, state)
		if !a.ExpiresAt.IsZero() {
			line += fmt.Sprintf(" expires %s", a.ExpiresAt.Local().Format("2006-01-02 15:04"))
			if a.Remaining > 0 {
				line += fmt.Sprintf(" (%.1f days left)", a.Remaining.Hours()/24)
			}
		}
		fmt.Fprintln(w, line)
	}
	if r.Invalid != nil {
		fmt.Fprintf(w, "invalid: %v\n", r.Invalid)
		return
	}
	fmt.Fprintln(w, "ok")
}
