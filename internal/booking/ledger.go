package booking

import (
	"sort"
	"sync"
)

// Ledger is the set of accounts that already hold today's reservation.
type Ledger struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func NewLedger() *Ledger { return &Ledger{names: map[string]struct{}{}} }

func (l *Ledger) Add(name string) {
	l.mu.Lock()
	l.names[name] = struct{}{}
	l.mu.Unlock()
}

func (l *Ledger) Has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.names[name]
	return ok
}

// Reset empties the ledger and reports how many names it held.
func (l *Ledger) Reset() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.names)
	clear(l.names)
	return n
}

// Names returns the held names sorted.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	out := make([]string, 0, len(l.names))
	for n := range l.names {
		out = append(out, n)
	}
	l.mu.Unlock()
	sort.Strings(out)
	return out
}
