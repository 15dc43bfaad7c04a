// Package status serves a read-only HTTP view of the running bot: health,
// scheduler state, accounts (never their tokens), recent log lines, stored
// outcomes and notifier history.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "subwaybot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	Token   string
	Debug   bool
}

// Server runs the status router and restarts it when its config changes.
type Server struct {
	mu  sync.Mutex
	log logx.Logger
	src Sources
	cfg Config

	srv  *http.Server
	addr string
}

func NewServer(src Sources, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{src: src, log: log}
}

// Addr returns the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Apply starts, stops or restarts the server for cfg.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev, running := s.cfg, s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
		return nil
	case running && prev == cfg:
		return nil
	case running:
		s.Stop(ctx)
	}
	return s.start()
}

func (s *Server) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	cfg := s.cfg
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8087"
	}
	if strings.TrimSpace(cfg.Token) == "" && !isLoopbackAddr(addr) {
		return errors.New("status: non-loopback addr " + addr + " requires a token")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           NewRouter(s.src, cfg.Token, cfg.Debug, s.log),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.srv = srv
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("status server started",
		logx.String("addr", s.addr),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("debug", cfg.Debug))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.addr = ""
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("status server stopped")
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
