package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "subwaybot/pkg/logx"
)

// DefaultPollInterval is how often the file is re-read even without events.
const DefaultPollInterval = 5 * time.Second

// ErrUnchanged is returned by Check when the file content did not change.
var ErrUnchanged = errors.New("config unchanged")

// Manager holds the live configuration snapshot and reloads it on change.
//
// A new file content is adopted only when it parses and validates; otherwise
// the previous snapshot stays live.
type Manager struct {
	path string

	cfg atomic.Pointer[Config]

	// mu guards lastRaw/rejectedRaw and serializes Check.
	mu          sync.Mutex
	lastRaw     []byte
	rejectedRaw []byte

	// subsMu guards subscriber list and ensures we never send on a channel
	// that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
	now       func() time.Time
}

func NewManager(path string) *Manager {
	m := &Manager{path: path, log: logx.Nop(), now: time.Now}
	m.validator = func(_ context.Context, cfg *Config) error { return Validate(cfg, m.now()) }
	return m
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator replaces the validation hook run before a snapshot is adopted.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	if fn != nil {
		m.validator = fn
	}
}

// Parse reads and decodes the file without validating or adopting it.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Load reads, validates and adopts the file. Used at startup, where an
// invalid file is fatal.
func (m *Manager) Load(ctx context.Context) (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := m.accept(ctx, raw)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.lastRaw = raw
	m.rejectedRaw = nil
	m.mu.Unlock()
	m.cfg.Store(cfg)
	return cfg, nil
}

func (m *Manager) accept(ctx context.Context, raw []byte) (*Config, error) {
	cfg, err := Decode(m.path, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.validator(vctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the live snapshot. Callers must not mutate it.
func (m *Manager) Get() *Config { return m.cfg.Load() }

// Check re-reads the file once. It returns ErrUnchanged when the bytes match
// the live (or last rejected) content, the validation error when the new
// content is rejected, and nil after adopting and publishing new content.
func (m *Manager) Check(ctx context.Context) error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		m.log.Warn("config read failed", logx.String("path", m.path), logx.Err(err))
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if bytes.Equal(raw, m.lastRaw) {
		if m.rejectedRaw != nil {
			// Reverted to the live content.
			m.rejectedRaw = nil
		}
		return ErrUnchanged
	}
	if m.rejectedRaw != nil && bytes.Equal(raw, m.rejectedRaw) {
		return ErrUnchanged
	}

	cfg, err := m.accept(ctx, raw)
	if err != nil {
		m.rejectedRaw = raw
		m.log.Warn("config rejected; keeping previous", logx.String("path", m.path), logx.Err(err))
		return err
	}

	old := m.cfg.Load()
	m.lastRaw = raw
	m.rejectedRaw = nil
	m.cfg.Store(cfg)

	changed, attrs, accounts := SummarizeChange(old, cfg)
	fields := append([]logx.Field{
		logx.String("path", m.path),
		logx.Any("sections", changed),
		logx.Any("added", accounts.Added),
		logx.Any("removed", accounts.Removed),
		logx.Any("changed", accounts.Changed),
	}, attrs...)
	m.log.Info("config reloaded", fields...)

	m.publish(cfg)
	return nil
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		// Deliver the latest config; a full buffer loses its oldest entry.
		select {
		case ch <- cfg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
				m.log.Debug("config update dropped (subscriber slow)",
					logx.Int("queue_len", len(ch)), logx.Int("queue_cap", cap(ch)))
			}
		}
	}
}

// Watch polls the file every interval and also reloads shortly after
// filesystem events on it. It returns when ctx is done.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	const (
		debounceDelay      = 250 * time.Millisecond
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 30 * time.Second
	)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := restartBackoffBase
	var retryAt time.Time

	poll := time.NewTicker(interval)
	defer poll.Stop()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	var (
		w      *fsnotify.Watcher
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	closeWatcher := func() {
		if w != nil {
			_ = w.Close()
		}
		w, events, errs = nil, nil, nil
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		retryAt = time.Now().Add(wait)
		backoff = min(backoff*2, restartBackoffMax)
	}
	openWatcher := func() {
		nw, err := fsnotify.NewWatcher()
		if err == nil {
			err = nw.Add(dir)
			if err != nil {
				_ = nw.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watcher unavailable; polling only", logx.String("dir", dir), logx.Err(err))
			closeWatcher()
			return
		}
		w, events, errs = nw, nw.Events, nw.Errors
		backoff = restartBackoffBase
		m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
	}
	defer func() {
		if w != nil {
			_ = w.Close()
		}
	}()

	openWatcher()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			if w == nil && !retryAt.IsZero() && time.Now().After(retryAt) {
				openWatcher()
			}
			_ = m.Check(ctx)
		case <-debounce.C:
			_ = m.Check(ctx)
		case ev, ok := <-events:
			if !ok {
				closeWatcher()
				continue
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce.Reset(debounceDelay)
			}
		case err, ok := <-errs:
			if !ok {
				closeWatcher()
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
			debounce.Reset(debounceDelay)
		}
	}
}
