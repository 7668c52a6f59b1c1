// Package api serves the running count, door presence and the episode log
// over HTTP.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/people.count/internal/config"
	"github.com/banshee-data/people.count/internal/db"
	"github.com/banshee-data/people.count/internal/homeassistant"
	"github.com/banshee-data/people.count/internal/httputil"
	"github.com/banshee-data/people.count/internal/stats"
	"github.com/banshee-data/people.count/internal/tally"
	"github.com/banshee-data/people.count/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultEpisodeLimit = 100
	maxEpisodeLimit     = 1000
	maxCountBody        = 1 << 10
)

// EpisodeStore is the read side of the episode log.
type EpisodeStore interface {
	RecentEpisodes(limit int) ([]db.EpisodeRecord, error)
	CountingEpisodes(since time.Time) ([]db.EpisodeRecord, error)
	RecentAdjustments(limit int) ([]db.Adjustment, error)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMQTTStats reports the Home Assistant bridge on /api/status.
func WithMQTTStats(fn func() homeassistant.Stats) ServerOption {
	return func(s *Server) { s.mqttStats = fn }
}

type Server struct {
	tally     *tally.Tally
	store     EpisodeStore
	presence  *Presence
	cfg       *config.Config
	mqttStats func() homeassistant.Stats
}

func NewServer(t *tally.Tally, store EpisodeStore, presence *Presence, cfg *config.Config, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if presence == nil {
		presence = NewPresence(nil, nil)
	}
	s := &Server{
		tally:    t,
		store:    store,
		presence: presence,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/count", s.handleCount)
	mux.HandleFunc("/api/presence", s.showPresence)
	mux.HandleFunc("/api/episodes", s.listEpisodes)
	mux.HandleFunc("/api/adjustments", s.listAdjustments)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/chart", s.showChart)
	mux.HandleFunc("/api/plot.png", s.showPlot)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

// Handler is ServeMux wrapped in LoggingMiddleware.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.ServeMux())
}

type countResponse struct {
	Count int          `json:"count"`
	Last  tally.Update `json:"last"`
}

type countRequest struct {
	Count *int `json:"count"`
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, countResponse{Count: s.tally.Count(), Last: s.tally.Last()})
	case http.MethodPut:
		var req countRequest
		if !httputil.DecodeJSON(w, r, maxCountBody, &req) {
			return
		}
		if req.Count == nil {
			httputil.BadRequest(w, "missing 'count'")
			return
		}
		if *req.Count < 0 {
			httputil.BadRequest(w, "'count' must not be negative")
			return
		}
		u := s.tally.Set(*req.Count, tally.ReasonManual)
		log.Printf("[api] count set %d -> %d", u.Previous, u.Count)
		httputil.WriteJSONOK(w, countResponse{Count: u.Count, Last: u})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	status := s.presence.Status()
	status.Count = s.tally.Count()
	httputil.WriteJSONOK(w, status)
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultEpisodeLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.New("invalid 'limit' parameter")
	}
	return min(n, maxEpisodeLimit), nil
}

// parseSince accepts RFC 3339 or a duration back from now, e.g. 24h.
func parseSince(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return time.Now().Add(-d), nil
	}
	return time.Time{}, errors.New("invalid 'since' parameter")
}

func (s *Server) listEpisodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	episodes, err := s.store.RecentEpisodes(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve episodes: %v", err))
		return
	}
	if episodes == nil {
		episodes = []db.EpisodeRecord{}
	}
	httputil.WriteJSONOK(w, episodes)
}

func (s *Server) listAdjustments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	adjustments, err := s.store.RecentAdjustments(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve adjustments: %v", err))
		return
	}
	if adjustments == nil {
		adjustments = []db.Adjustment{}
	}
	httputil.WriteJSONOK(w, adjustments)
}

func (s *Server) countingEpisodes(w http.ResponseWriter, r *http.Request) ([]db.EpisodeRecord, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil, false
	}
	since, err := parseSince(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	records, err := s.store.CountingEpisodes(since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve episodes: %v", err))
		return nil, false
	}
	return records, true
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	records, ok := s.countingEpisodes(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, stats.Analyse(records))
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	records, ok := s.countingEpisodes(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := stats.RenderChart(records, &buf); err != nil {
		if errors.Is(err, stats.ErrNoData) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) showPlot(w http.ResponseWriter, r *http.Request) {
	records, ok := s.countingEpisodes(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := stats.WriteStepPlot(records, &buf); err != nil {
		if errors.Is(err, stats.ErrNoData) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

// configView omits credentials.
type configView struct {
	MaxTriggerDistance float64           `json:"max_trigger_distance_cm"`
	StartZone          string            `json:"start_zone"`
	RangingMode        string            `json:"ranging_mode"`
	SampleTimeoutMs    int64             `json:"sample_timeout_ms"`
	ROIs               map[string]string `json:"rois"`
	MotionLights       bool              `json:"motion_lights"`
	MQTT               bool              `json:"mqtt"`
	Hue                bool              `json:"hue"`
	Replay             string            `json:"replay,omitempty"`
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rois := make(map[string]string)
	for zone, roi := range s.cfg.GetROIs() {
		rois[zone.String()] = roi.String()
	}
	httputil.WriteJSONOK(w, configView{
		MaxTriggerDistance: s.cfg.GetMaxTriggerDistance(),
		StartZone:          s.cfg.GetStartZone().String(),
		RangingMode:        s.cfg.GetRangingMode().String(),
		SampleTimeoutMs:    s.cfg.GetSampleTimeout().Milliseconds(),
		ROIs:               rois,
		MotionLights:       s.cfg.GetMotionLights(),
		MQTT:               s.cfg.MQTTEnabled(),
		Hue:                s.cfg.HueEnabled(),
		Replay:             s.cfg.GetReplayFile(),
	})
}

type statusResponse struct {
	Presence PresenceStatus       `json:"presence"`
	MQTT     *homeassistant.Stats `json:"mqtt,omitempty"`
	Version  version.Info         `json:"version"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statusResponse{Presence: s.presence.Status(), Version: version.Current()}
	resp.Presence.Count = s.tally.Count()
	if s.mqttStats != nil {
		st := s.mqttStats()
		resp.MQTT = &st
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}
