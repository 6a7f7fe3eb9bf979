package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"intercheck/internal/record"
	"intercheck/internal/settings"
	"intercheck/internal/stats"
	logx "intercheck/pkg/logx"
)

// Form fields accepted by PUT /settings/.
const (
	FormInterval      = "intercheck-settings-interval"
	FormIntervalExact = "intercheck-settings-interval-exact"
)

// writeJSON adds the version field to body and writes it.
func (s *Server) writeJSON(w http.ResponseWriter, code int, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	body["version"] = s.version
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("write response failed", logx.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]any{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": s.status.Flags()})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	sum := s.stats.Summary(r.Context(), SummaryDays)

	out := make(map[string]map[string][2]float64, len(sum.Windows))
	for d, ds := range sum.Windows {
		m := make(map[string][2]float64, len(ds.Metrics)+1)
		for k, v := range ds.Metrics {
			m[k] = [2]float64{v.Average, v.Variance}
		}
		m["downtime"] = [2]float64{ds.DowntimeMinutes, 0}
		out[strconv.Itoa(d)] = m
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stats":    out,
		"interval": sum.RecordDays,
	})
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	var floor *time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("latest")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "latest must be a unix timestamp")
			return
		}
		t := record.FromUnix(v)
		floor = &t
	}
	series := s.stats.Points(r.Context(), PointsDays, floor)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"points": map[string]stats.Series{strconv.Itoa(PointsDays): series},
	})
}

func (s *Server) handleForce(w http.ResponseWriter, _ *http.Request) {
	if !s.allowForce() {
		s.writeJSON(w, http.StatusTooManyRequests, map[string]any{"status": false, "error": "rate limit exceeded"})
		return
	}
	s.force.Set()
	s.log.Info("probe forced via http")
	s.writeJSON(w, http.StatusOK, map[string]any{"status": s.force.IsSet()})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	if s.settings == nil {
		s.writeError(w, http.StatusServiceUnavailable, "settings unavailable")
		return
	}
	cur := s.settings.Load()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"interval":       cur.Interval,
		"interval_exact": cur.IntervalExact,
		"port":           cur.Port,
	})
}

// handlePutSettings applies one field per request. When both are present the
// interval wins. Out-of-range or malformed values are replaced by the default
// and the accepted value is echoed back.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		s.writeError(w, http.StatusServiceUnavailable, "settings unavailable")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	cur := s.settings.Load()

	var accepted any
	switch {
	case r.PostForm.Has(FormInterval):
		v, err := settings.AcceptInterval(r.PostForm.Get(FormInterval))
		if errors.Is(err, settings.ErrInvalidInterval) {
			s.log.Warn("rejected interval; using default",
				logx.String("raw", r.PostForm.Get(FormInterval)),
				logx.Int("default", v),
			)
		}
		cur.Interval = v
		accepted = v
	case r.PostForm.Has(FormIntervalExact):
		v, _ := settings.AcceptIntervalExact(r.PostForm.Get(FormIntervalExact))
		cur.IntervalExact = v
		accepted = v
	default:
		s.writeError(w, http.StatusBadRequest, "no settings field supplied")
		return
	}

	if err := s.settings.Save(cur); err != nil {
		s.log.Error("save settings failed", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "could not save settings")
		return
	}
	s.force.Set()
	s.writeJSON(w, http.StatusOK, map[string]any{"accepted": accepted})
}
