package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"voip-monitor/internal/models"
	"voip-monitor/internal/report"
)

const (
	defaultRecentMinutes = 60
	defaultHeatmapDays   = 7
)

var dateLayouts = []string{
	models.TimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps domain errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("no data for target %s", targetParam(r)))
	case errors.Is(err, models.ErrInvalidFilter), errors.Is(err, models.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrAlreadyMonitored), errors.Is(err, models.ErrPartitionBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request_failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func targetParam(r *http.Request) string {
	raw := chi.URLParam(r, "target")
	if t, err := url.PathUnescape(raw); err == nil {
		return t
	}
	return raw
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: unrecognized date %q", models.ErrInvalidFilter, v)
}

func parseFloat(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number", models.ErrInvalidFilter, v)
	}
	return &f, nil
}

func parseInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", models.ErrInvalidFilter, v)
	}
	return n, nil
}

func parseRange(q url.Values) (models.TimeRange, error) {
	from, err := parseDate(q.Get("from_date"))
	if err != nil {
		return models.TimeRange{}, err
	}
	to, err := parseDate(q.Get("to_date"))
	if err != nil {
		return models.TimeRange{}, err
	}
	return models.TimeRange{From: from, To: to}, nil
}

func parseFilter(q url.Values) (models.SampleFilter, error) {
	var f models.SampleFilter
	var err error

	rng, err := parseRange(q)
	if err != nil {
		return f, err
	}
	f.From, f.To = rng.From, rng.To

	if f.MinLatency, err = parseFloat(q.Get("min_latency")); err != nil {
		return f, err
	}
	if f.MaxLatency, err = parseFloat(q.Get("max_latency")); err != nil {
		return f, err
	}
	if f.Limit, err = parseInt(q.Get("limit"), models.DefaultLimit); err != nil {
		return f, err
	}
	if f.Offset, err = parseInt(q.Get("offset"), 0); err != nil {
		return f, err
	}
	if v := q.Get("only_failures"); v != "" {
		if f.OnlyFailures, err = strconv.ParseBool(v); err != nil {
			return f, fmt.Errorf("%w: only_failures must be a boolean", models.ErrInvalidFilter)
		}
	}
	return f, nil
}

// handleListTargets handles GET /api/targets
func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.queries.ListTargets(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if targets == nil {
		targets = []models.TargetSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets, "total": len(targets)})
}

type addPayload struct {
	IP   string `json:"ip"`
	Name string `json:"name"`
}

// handleAddTarget handles POST /api/targets
func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var p addPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.IP == "" {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	info := models.TargetInfo{Address: p.IP, Name: p.Name, CreatedAt: s.now()}
	if err := s.registry.Start(info); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("added_target", zap.String("target", p.IP), zap.String("name", p.Name))
	writeJSON(w, http.StatusCreated, info)
}

// handleRemoveTarget handles DELETE /api/targets/{target}
func (s *Server) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Stop(targetParam(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSamples handles GET /api/ping/{target}
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.queries.Samples(r.Context(), targetParam(r), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleStats handles GET /api/stats/{target}
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.queries.Stats(r.Context(), targetParam(r), rng)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRecent handles GET /api/recent/{target}
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	minutes, err := parseInt(r.URL.Query().Get("minutes"), defaultRecentMinutes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recent, err := s.queries.Recent(r.Context(), targetParam(r), minutes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

// handleHeatmap handles GET /api/heatmap/{target}
func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	days, err := parseInt(r.URL.Query().Get("days"), defaultHeatmapDays)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	heatmap, err := s.queries.Heatmap(r.Context(), targetParam(r), days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, heatmap)
}

// handleQuality handles GET /api/quality/{target}
func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Snapshot(targetParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleExport handles GET /api/export/{target}
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	target := targetParam(r)
	rng, err := parseRange(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := s.queries.Info(r.Context(), target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	samples, err := s.queries.Range(r.Context(), target, rng)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	meta := report.ExportMeta{Target: info, Session: report.NewSession()}
	if rng.From != nil {
		meta.Start = *rng.From
	}
	if rng.To != nil {
		meta.End = *rng.To
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="samples_%s.csv"`, s.now().Format("20060102_150405")))
	if err := report.ExportCSV(w, meta, samples); err != nil {
		s.logger.Warn("export_failed", zap.String("target", target), zap.Error(err))
	}
}

// handleChart handles GET /api/chart/{target}
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	target := targetParam(r)
	hours, err := parseInt(r.URL.Query().Get("hours"), 24)
	if err != nil || hours < 1 || hours > 24*30 {
		writeError(w, http.StatusBadRequest, "hours must be between 1 and 720")
		return
	}

	to := s.now()
	from := to.Add(-time.Duration(hours) * time.Hour)
	samples, err := s.queries.Range(r.Context(), target, models.TimeRange{From: &from, To: &to})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := report.RenderLatencyChart(w, target, samples); err != nil {
		w.Header().Del("Content-Type")
		if errors.Is(err, report.ErrNoData) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.fail(w, r, err)
	}
}
