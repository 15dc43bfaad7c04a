// Package metro talks to the metro entry reservation web API.
//
// Every call is bounded by a short timeout and reports failure as a plain
// "no": callers retry, they never see transport errors.
package metro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"subwaybot/pkg/logx"
)

const (
	DefaultBaseURL = "https://webapi.mybti.cn"
	webOrigin      = "https://webui.mybti.cn"

	// SnapshotSlot is the whole morning window the booking form is opened for.
	SnapshotSlot = "0630-0930"

	dateLayout = "20060102"
)

// Timeouts bounds each remote call.
type Timeouts struct {
	Reservation time.Duration
	Balance     time.Duration
	Attempt     time.Duration
	FinalCheck  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Reservation: 2 * time.Second,
		Balance:     5 * time.Second,
		Attempt:     2 * time.Second,
		FinalCheck:  5 * time.Second,
	}
}

// WithDefaults fills zero or negative fields from DefaultTimeouts.
func (t Timeouts) WithDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Reservation <= 0 {
		t.Reservation = d.Reservation
	}
	if t.Balance <= 0 {
		t.Balance = d.Balance
	}
	if t.Attempt <= 0 {
		t.Attempt = d.Attempt
	}
	if t.FinalCheck <= 0 {
		t.FinalCheck = d.FinalCheck
	}
	return t
}

// Target identifies the reservation an account is after.
type Target struct {
	Line      string
	Station   string
	Slot      string
	EntryDate time.Time
}

// Availability is one bookable entry reported by the balance query.
type Availability struct {
	EnterDate string `json:"enterDate"`
	TimeSlot  string `json:"timeSlot"`
	Remaining int    `json:"remaining"`
}

// Client is bound to a single account credential.
type Client struct {
	hc       *http.Client
	baseURL  string
	token    string
	timeouts Timeouts
	log      logx.Logger
	now      func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

func WithBaseURL(base string) Option {
	return func(c *Client) {
		if s := strings.TrimRight(strings.TrimSpace(base), "/"); s != "" {
			c.baseURL = s
		}
	}
}

func WithTimeouts(t Timeouts) Option { return func(c *Client) { c.timeouts = t.WithDefaults() } }

func WithLogger(l logx.Logger) Option { return func(c *Client) { c.log = l } }

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func New(token string, opts ...Option) *Client {
	c := &Client{
		hc:       &http.Client{},
		baseURL:  DefaultBaseURL,
		token:    token,
		timeouts: DefaultTimeouts(),
		log:      logx.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Timeouts() Timeouts { return c.timeouts }

// HasReservation reports whether an entry code already exists for the target
// station, slot and date. Any failure reads as false.
func (c *Client) HasReservation(ctx context.Context, t Target, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = c.timeouts.Reservation
	}
	q := url.Values{}
	q.Set("status", "0")
	q.Set("lastid", "")
	body, ok := c.do(ctx, http.MethodGet, "/AppointmentRecord/GetAppointmentList", q, nil, timeout)
	if !ok {
		return false
	}

	var records []struct {
		StationName string `json:"stationName"`
		ArrivalTime string `json:"arrivalTime"`
	}
	if err := json.Unmarshal(body, &records); err != nil {
		c.log.Debug("reservation list not a list", logx.Err(err))
		return false
	}
	want, err := ArrivalLabel(t.EntryDate, t.Slot)
	if err != nil {
		return false
	}
	for _, r := range records {
		if r.StationName == t.Station && r.ArrivalTime == want {
			return true
		}
	}
	return false
}

// Balance returns the entries that still have places left and are not
// restricted.
func (c *Client) Balance(ctx context.Context, t Target) []Availability {
	today := c.now()
	req := map[string]any{
		"stationName": t.Station,
		"enterDates":  []string{today.Format(dateLayout), t.EntryDate.Format(dateLayout)},
		"timeSlot":    t.Slot,
	}
	body, ok := c.do(ctx, http.MethodPost, "/Appointment/GetBalance", nil, req, c.timeouts.Balance)
	if !ok {
		return nil
	}

	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		c.log.Debug("balance response not a list", logx.Err(err))
		return nil
	}
	out := make([]Availability, 0, len(items))
	for _, it := range items {
		if !truthy(it["balance"]) || truthy(it["status"]) {
			continue
		}
		a := Availability{Remaining: 1}
		a.EnterDate, _ = it["enterDate"].(string)
		a.TimeSlot, _ = it["timeSlot"].(string)
		if n, ok := it["balance"].(float64); ok {
			a.Remaining = int(n)
		}
		out = append(out, a)
	}
	return out
}

// Attempt submits one booking request. True means the server reported a
// positive balance for the request, not that the reservation is confirmed.
func (c *Client) Attempt(ctx context.Context, t Target) bool {
	req := map[string]any{
		"lineName":           t.Line,
		"snapshotWeekOffset": 0,
		"stationName":        t.Station,
		"enterDate":          t.EntryDate.Format(dateLayout),
		"snapshotTimeSlot":   SnapshotSlot,
		"timeSlot":           t.Slot,
	}
	body, ok := c.do(ctx, http.MethodPost, "/Appointment/CreateAppointment", nil, req, c.timeouts.Attempt)
	if !ok {
		return false
	}

	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	n, ok := resp["balance"].(float64)
	return ok && n == math.Trunc(n) && n > 0
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, timeout time.Duration) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			c.log.Error("encode request failed", logx.String("path", path), logx.Err(err))
			return nil, false
		}
		rd = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		c.log.Error("build request failed", logx.String("path", path), logx.Err(err))
		return nil, false
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", webOrigin)
	req.Header.Set("Referer", webOrigin+"/")
	req.Header.Set("Authorization", c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug("request", logx.String("method", method), logx.String("path", path))
	res, err := c.hc.Do(req)
	if err != nil {
		c.log.Debug("request failed", logx.String("path", path), logx.Err(err))
		return nil, false
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.log.Error("remote error", logx.String("path", path), logx.Int("status", res.StatusCode))
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		c.log.Debug("read body failed", logx.String("path", path), logx.Err(err))
		return nil, false
	}
	c.log.Trace("response", logx.String("path", path), logx.String("body", string(body)))
	return body, true
}

// ArrivalLabel renders date and slot the way reservation records show them,
// e.g. "3月17日 (06:30~06:40)".
func ArrivalLabel(date time.Time, slot string) (string, error) {
	s, err := ParseSlot(slot)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d月%d日 (%s~%s)", int(date.Month()), date.Day(), s.Start, s.End), nil
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
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}
