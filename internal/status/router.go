package status

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"subwaybot/internal/booking"
	"subwaybot/internal/config"
	"subwaybot/internal/guard"
	"subwaybot/internal/notifier"
	rtsup "subwaybot/internal/runtime/supervisor"
	"subwaybot/internal/storage"
	"subwaybot/internal/token"
	logx "subwaybot/pkg/logx"
)

// Sources are the read-only views the handlers serve. Nil members are
// reported as absent.
type Sources struct {
	Scheduler  interface{ Status() booking.Status }
	Config     func() *config.Config
	Guard      *guard.Guard
	Stream     *logx.Stream
	Store      storage.Store
	Notifier   func() []notifier.HistoryItem
	Supervisor func() rtsup.Snapshot
	Now        func() time.Time
	Version    string
}

// AccountView is an account without its credential.
type AccountView struct {
	Name         string      `json:"name"`
	Line         string      `json:"line"`
	Station      string      `json:"station"`
	Slot         string      `json:"slot"`
	Disabled     bool        `json:"disabled"`
	TokenValid   bool        `json:"tokenValid"`
	TokenExpires *time.Time  `json:"tokenExpires,omitempty"`
	Alerts       guard.State `json:"alerts"`
}

type statusResponse struct {
	Time       time.Time       `json:"time"`
	Version    string          `json:"version,omitempty"`
	Scheduler  *booking.Status `json:"scheduler,omitempty"`
	Accounts   []AccountView   `json:"accounts"`
	Supervisor *rtsup.Snapshot `json:"supervisor,omitempty"`
}

// NewRouter builds the status handler. debug mounts pprof under /debug.
func NewRouter(src Sources, token string, debug bool, log logx.Logger) http.Handler {
	if src.Now == nil {
		src.Now = time.Now
	}
	h := &handlers{src: src}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(accessLog(log))

	r.Get("/healthz", h.health)
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))
		r.Get("/status", h.status)
		r.Get("/logs", h.logs)
		r.Get("/outcomes", h.outcomes)
		r.Get("/notifications", h.notifications)
		if debug {
			r.Mount("/debug", chimiddleware.Profiler())
		}
	})
	return r
}

type handlers struct {
	src Sources
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	now := h.src.Now()
	resp := statusResponse{Time: now, Version: h.src.Version, Accounts: []AccountView{}}
	if h.src.Scheduler != nil {
		st := h.src.Scheduler.Status()
		resp.Scheduler = &st
	}
	if h.src.Supervisor != nil {
		snap := h.src.Supervisor()
		resp.Supervisor = &snap
	}

	var alerts map[string]guard.State
	if h.src.Guard != nil {
		alerts = h.src.Guard.Snapshot()
	}
	if h.src.Config != nil {
		if cfg := h.src.Config(); cfg != nil {
			for _, a := range cfg.Accounts {
				v := AccountView{
					Name:       a.Name,
					Line:       a.LineName,
					Station:    a.StationName,
					Slot:       a.TimeSlot,
					Disabled:   a.Disabled,
					TokenValid: token.IsValid(a.Token, now),
					Alerts:     alerts[a.Name],
				}
				if token.Decode(a.Token) > 0 {
					exp := token.ExpiresAt(a.Token)
					v.TokenExpires = &exp
				}
				resp.Accounts = append(resp.Accounts, v)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) logs(w http.ResponseWriter, r *http.Request) {
	if h.src.Stream == nil {
		writeError(w, http.StatusNotFound, "log stream disabled")
		return
	}
	limit := queryInt(r, "limit", 200)
	level := logx.ParseLevel(strings.TrimSpace(r.URL.Query().Get("level")), logx.LevelTrace)
	lines := h.src.Stream.Recent(limit, level)
	if lines == nil {
		lines = []logx.LogLine{}
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *handlers) outcomes(w http.ResponseWriter, r *http.Request) {
	if h.src.Store == nil {
		writeError(w, http.StatusNotFound, "storage disabled")
		return
	}
	recs, err := h.src.Store.RecentOutcomes(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []storage.OutcomeRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handlers) notifications(w http.ResponseWriter, _ *http.Request) {
	items := []notifier.HistoryItem{}
	if h.src.Notifier != nil {
		if got := h.src.Notifier(); got != nil {
			items = got
		}
	}
	writeJSON(w, http.StatusOK, items)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
