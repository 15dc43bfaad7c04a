package booking

import (
	"context"
	"time"

	"subwaybot/internal/config"
	"subwaybot/internal/eventbus"
	"subwaybot/internal/guard"
	"subwaybot/internal/token"
	"subwaybot/pkg/logx"
)

// TokenWarning is the payload of token.warning events.
type TokenWarning struct {
	Account string     `json:"account"`
	Kind    guard.Kind `json:"kind"`
	Message string     `json:"message"`
}

// Sweeper periodically checks credential expiry of every active account.
type Sweeper struct {
	src    Source
	guard  *guard.Guard
	sender Sender
	notify bool
	bus    eventbus.Bus
	clock  Clock
	log    logx.Logger
}

func NewSweeper(src Source, g *guard.Guard, sender Sender, notify bool, bus eventbus.Bus, clock Clock, log logx.Logger) *Sweeper {
	if clock == nil {
		clock = SystemClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{src: src, guard: g, sender: sender, notify: notify, bus: bus, clock: clock, log: log}
}

// Run sweeps once, then every booking.sweepInterval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		s.Sweep(ctx)
		if err := s.clock.Sleep(ctx, s.interval()); err != nil {
			return nil
		}
	}
}

func (s *Sweeper) interval() time.Duration {
	cfg := s.src.Get()
	if cfg == nil {
		return config.DefaultSweepInterval
	}
	b, err := cfg.Booking.Resolve()
	if err != nil || b.SweepInterval <= 0 {
		return config.DefaultSweepInterval
	}
	return b.SweepInterval
}

// Sweep evaluates every active account once and returns the warnings fired.
func (s *Sweeper) Sweep(ctx context.Context) []TokenWarning {
	now := s.clock.Now()
	var fired []TokenWarning
	for _, acct := range s.src.Get().Active() {
		if ctx.Err() != nil {
			break
		}
		left := token.Remaining(acct.Token, now)
		s.log.Debug("token validity",
			logx.String("account", acct.Name),
			logx.Float64("days_left", left.Hours()/24))

		msg, kind, ok := s.guard.EvaluateKind(acct.Token, acct.Name, now)
		if !ok {
			continue
		}
		w := TokenWarning{Account: acct.Name, Kind: kind, Message: msg}
		fired = append(fired, w)
		s.log.Warn(msg, logx.String("account", acct.Name), logx.String("kind", string(kind)))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTokenWarning, Time: now, Data: w})
		}
		if s.notify && s.sender != nil {
			s.sender.Send(msg)
		}
	}
	return fired
}
