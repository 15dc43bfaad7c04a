// Package guard keeps per-account one-shot flags so that expiry warnings are
// sent at most once between configuration changes.
package guard

import (
	"fmt"
	"sync"
	"time"

	"subwaybot/internal/token"
)

// DefaultThreshold is how close to expiry a credential counts as expiring soon.
const DefaultThreshold = 24 * time.Hour

type Kind string

const (
	KindExpired      Kind = "expired"
	KindExpiringSoon Kind = "expiring_soon"
)

type state struct {
	expiredAlerted      bool
	expiringSoonAlerted bool
}

// State is the exported view of one account's flags.
type State struct {
	ExpiredAlerted      bool `json:"expiredAlerted"`
	ExpiringSoonAlerted bool `json:"expiringSoonAlerted"`
}

type Guard struct {
	mu        sync.Mutex
	threshold time.Duration
	accounts  map[string]*state
}

func New(threshold time.Duration) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Guard{threshold: threshold, accounts: map[string]*state{}}
}

// Evaluate returns a warning for the account when one of its flags fires.
// Each flag fires once until Reset.
func (g *Guard) Evaluate(tok, name string, now time.Time) (string, bool) {
	msg, _, ok := g.EvaluateKind(tok, name, now)
	return msg, ok
}

// EvaluateKind is Evaluate that also reports which flag fired.
func (g *Guard) EvaluateKind(tok, name string, now time.Time) (string, Kind, bool) {
	exp := token.Decode(tok)
	left := exp - now.Unix()

	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.accounts[name]
	if st == nil {
		st = &state{}
		g.accounts[name] = st
	}

	switch {
	case left < 0:
		if st.expiredAlerted {
			return "", "", false
		}
		st.expiredAlerted = true
		return fmt.Sprintf("%s: token has expired, please refresh it", name), KindExpired, true
	case left > 0 && time.Duration(left)*time.Second < g.threshold:
		if st.expiringSoonAlerted {
			return "", "", false
		}
		st.expiringSoonAlerted = true
		hours := float64(left) / 3600
		return fmt.Sprintf("%s: token expires in %.1f hours, please refresh it", name, hours), KindExpiringSoon, true
	}
	return "", "", false
}

// SetThreshold changes the "expiring soon" window; <= 0 restores the default.
func (g *Guard) SetThreshold(d time.Duration) {
	if d <= 0 {
		d = DefaultThreshold
	}
	g.mu.Lock()
	g.threshold = d
	g.mu.Unlock()
}

// Threshold returns the current "expiring soon" window.
func (g *Guard) Threshold() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.threshold
}

// Reset re-arms every flag for every account.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.accounts = map[string]*state{}
	g.mu.Unlock()
}

func (g *Guard) Snapshot() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]State, len(g.accounts))
	for name, st := range g.accounts {
		out[name] = State{ExpiredAlerted: st.expiredAlerted, ExpiringSoonAlerted: st.expiringSoonAlerted}
	}
	return out
}
