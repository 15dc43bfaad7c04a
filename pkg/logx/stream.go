package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultStreamBuffer = 500

// LogLine is the structured (message, level, category) form of one log line.
type LogLine struct {
	Time     time.Time         `json:"time"`
	Level    string            `json:"level"`
	Category string            `json:"category,omitempty"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Text renders the line the way the console shows it, without colors.
func (l LogLine) Text() string {
	var b strings.Builder
	b.WriteString(l.Time.Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(strings.ToUpper(l.Level))
	if l.Category != "" {
		b.WriteString(" [")
		b.WriteString(l.Category)
		b.WriteString("]")
	}
	b.WriteString(" ")
	b.WriteString(l.Message)
	return b.String()
}

// Stream is a zerolog sink that keeps recent lines in a ring and forwards every
// line to registered listeners. Listeners run on the logging goroutine and
// must not block.
type Stream struct {
	mu        sync.Mutex
	ring      []LogLine
	next      int
	full      bool
	listeners map[int]func(LogLine)
	seq       int
}

func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &Stream{ring: make([]LogLine, buffer), listeners: map[int]func(LogLine){}}
}

// Listen registers fn for every future line and returns a cancel func.
func (s *Stream) Listen(fn func(LogLine)) (cancel func()) {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Recent returns up to limit lines at or above minLevel, oldest first.
func (s *Stream) Recent(limit int, minLevel Level) []LogLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.full {
		n = len(s.ring)
	}
	out := make([]LogLine, 0, n)
	start := 0
	if s.full {
		start = s.next
	}
	for i := 0; i < n; i++ {
		ln := s.ring[(start+i)%len(s.ring)]
		if ParseLevel(ln.Level, zerolog.InfoLevel) < minLevel {
			continue
		}
		out = append(out, ln)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *Stream) resize(buffer int) {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if buffer == len(s.ring) {
		return
	}
	s.ring = make([]LogLine, buffer)
	s.next = 0
	s.full = false
}

func (s *Stream) Write(p []byte) (int, error) {
	return s.WriteLevel(zerolog.NoLevel, p)
}

func (s *Stream) WriteLevel(_ zerolog.Level, p []byte) (int, error) {
	ln, ok := decodeLine(p)
	if !ok {
		return len(p), nil
	}

	s.mu.Lock()
	s.ring[s.next] = ln
	s.next++
	if s.next == len(s.ring) {
		s.next = 0
		s.full = true
	}
	fns := make([]func(LogLine), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ln)
	}
	return len(p), nil
}

func decodeLine(p []byte) (LogLine, bool) {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return LogLine{}, false
	}

	ln := LogLine{}
	ln.Level, _ = m[zerolog.LevelFieldName].(string)
	ln.Message, _ = m[zerolog.MessageFieldName].(string)
	ln.Category, _ = m[CategoryField].(string)
	if ts, ok := m[zerolog.TimestampFieldName].(string); ok {
		if t, err := time.Parse(zerolog.TimeFieldFormat, ts); err == nil {
			ln.Time = t
		}
	}
	if ln.Time.IsZero() {
		ln.Time = time.Now()
	}

	for k, v := range m {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName,
			zerolog.CallerFieldName, CategoryField:
			continue
		}
		if ln.Fields == nil {
			ln.Fields = map[string]string{}
		}
		ln.Fields[k] = truncate(fmt.Sprint(v), 600)
	}
	return ln, true
}
