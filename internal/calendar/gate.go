// Package calendar answers whether a date is a day without metro bookings.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"subwaybot/pkg/logx"
)

const (
	DefaultURL      = "https://tool.bitefu.net/jiari"
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = 24 * time.Hour

	dayLayout = "20060102"
)

type Source string

const (
	SourceDisabled Source = "disabled"
	SourceOverride Source = "override"
	SourceCache    Source = "cache"
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Decision is a holiday answer and where it came from.
type Decision struct {
	Holiday bool   `json:"holiday"`
	Source  Source `json:"source"`
}

type Config struct {
	Enabled  bool
	URL      string
	Timeout  time.Duration
	CacheTTL time.Duration
	// Holidays and Workdays are YYYYMMDD overrides that win over lookups.
	Holidays []string
	Workdays []string
	// FallbackHoliday is the answer used when the lookup fails.
	FallbackHoliday bool
}

type Gate struct {
	cfg      Config
	hc       *http.Client
	cache    Cache
	log      logx.Logger
	holidays map[string]struct{}
	workdays map[string]struct{}
}

type Option func(*Gate)

func WithCache(c Cache) Option {
	return func(g *Gate) {
		if c != nil {
			g.cache = c
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(g *Gate) {
		if hc != nil {
			g.hc = hc
		}
	}
}

func WithLogger(l logx.Logger) Option { return func(g *Gate) { g.log = l } }

func New(cfg Config, opts ...Option) *Gate {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	g := &Gate{
		cfg:      cfg,
		hc:       &http.Client{},
		cache:    NewMemoryCache(),
		log:      logx.Nop(),
		holidays: toSet(cfg.Holidays),
		workdays: toSet(cfg.Workdays),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// IsHoliday reports whether no booking should be made for date.
func (g *Gate) IsHoliday(ctx context.Context, date time.Time) bool {
	return g.Decide(ctx, date).Holiday
}

func (g *Gate) Decide(ctx context.Context, date time.Time) Decision {
	if !g.cfg.Enabled {
		return Decision{Holiday: false, Source: SourceDisabled}
	}
	day := date.Format(dayLayout)

	if _, ok := g.workdays[day]; ok {
		return Decision{Holiday: false, Source: SourceOverride}
	}
	if _, ok := g.holidays[day]; ok {
		return Decision{Holiday: true, Source: SourceOverride}
	}

	if v, found, err := g.cache.Get(ctx, day); err != nil {
		g.log.Warn("holiday cache read failed", logx.String("day", day), logx.Err(err))
	} else if found {
		return Decision{Holiday: v, Source: SourceCache}
	}

	v, err := g.lookup(ctx, day)
	if err != nil {
		g.log.Warn("holiday lookup failed, using fallback",
			logx.String("day", day), logx.Bool("holiday", g.cfg.FallbackHoliday), logx.Err(err))
		return Decision{Holiday: g.cfg.FallbackHoliday, Source: SourceFallback}
	}
	if err := g.cache.Set(ctx, day, v, g.cfg.CacheTTL); err != nil {
		g.log.Warn("holiday cache write failed", logx.String("day", day), logx.Err(err))
	}
	return Decision{Holiday: v, Source: SourceRemote}
}

func (g *Gate) lookup(ctx context.Context, day string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	u, err := url.Parse(g.cfg.URL)
	if err != nil {
		return false, fmt.Errorf("holiday url: %w", err)
	}
	q := u.Query()
	q.Set("d", day)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	res, err := g.hc.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return false, fmt.Errorf("holiday lookup: status %d", res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return false, err
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return false, fmt.Errorf("holiday lookup: decode: %w", err)
	}
	return truthy(v), nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		s := strings.TrimSpace(x)
		return s != "" && s != "0"
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return false
	}
}

func toSet(days []string) map[string]struct{} {
	m := make(map[string]struct{}, len(days))
	for _, d := range days {
		d = strings.TrimSpace(d)
		if d != "" {
			m[d] = struct{}{}
		}
	}
	return m
}
