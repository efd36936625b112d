package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"timeledger/internal/app"
	"timeledger/internal/config"
	appLog "timeledger/internal/log"
	"timeledger/internal/model"
	"timeledger/internal/store"
)

// Runner performs one refresh-and-log cycle.
type Runner interface {
	Run(ctx context.Context) (app.Report, error)
}

// Server exposes the outcome log, the customer directory and a run trigger
// over HTTP.
type Server struct {
	cfg      *config.Config
	store    store.StoreInterface
	runner   Runner
	meetings app.MeetingSource
	mux      *http.ServeMux

	// runMu serializes runs started over HTTP; the file lock covers the
	// scheduler and other processes.
	runMu sync.Mutex

	lastMu  sync.RWMutex
	lastRun *runStatus

	// In-memory cache for /api/meetings responses to avoid fetching every
	// feed on each request.
	meetingsMu    sync.RWMutex
	meetingsCache *meetingsCache
}

type runStatus struct {
	Report     *app.Report `json:"report,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

type meetingsCache struct {
	resp      meetingsResponse
	hours     int
	updatedAt time.Time
}

// NewServer constructs a new Server. meetings may be nil.
func NewServer(cfg *config.Config, st store.StoreInterface, runner Runner, meetings app.MeetingSource) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		runner:   runner,
		meetings: meetings,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// RecordRun stores the result of a run started outside the server, so that
// /api/status also reflects scheduled runs.
func (s *Server) RecordRun(started time.Time, rep app.Report, err error) {
	st := &runStatus{StartedAt: started, FinishedAt: time.Now()}
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Report = &rep
	}
	s.lastMu.Lock()
	s.lastRun = st
	s.lastMu.Unlock()
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="timeledger", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves s on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("stopping HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/outcomes", s.handleOutcomes)
	s.mux.HandleFunc("GET /api/customers", s.handleCustomers)
	s.mux.HandleFunc("GET /api/candidates", s.handleCandidates)
	s.mux.HandleFunc("GET /api/meetings", s.handleMeetings)
	s.mux.HandleFunc("POST /api/run", s.handleRun)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.lastMu.RLock()
	last := s.lastRun
	s.lastMu.RUnlock()
	if last == nil {
		writeJSON(w, http.StatusOK, map[string]any{"last_run": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"last_run": last})
}

// handleOutcomes lists recorded outcomes.
//
// GET /api/outcomes?run=<id>&limit=100
//   - run:   a run id, or "latest"; empty lists across runs
//   - limit: maximum rows (default 100, 0 for all)
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 100)
	run := q.Get("run")
	if run == "latest" {
		latest, err := s.store.LatestRun()
		if err != nil {
			appLog.Error("api outcomes: latest run lookup failed", err)
			writeError(w, http.StatusInternalServerError, "failed to read outcomes")
			return
		}
		run = latest
		if run == "" {
			writeJSON(w, http.StatusOK, outcomesResponse{Outcomes: []model.Outcome{}})
			return
		}
	}

	outs, err := s.store.ListOutcomes(run, limit)
	if err != nil {
		appLog.Error("api outcomes: list failed", err, "run", run)
		writeError(w, http.StatusInternalServerError, "failed to read outcomes")
		return
	}
	if outs == nil {
		outs = []model.Outcome{}
	}
	writeJSON(w, http.StatusOK, outcomesResponse{RunID: run, Outcomes: outs})
}

type outcomesResponse struct {
	RunID    string          `json:"run_id,omitempty"`
	Outcomes []model.Outcome `json:"outcomes"`
}

func (s *Server) handleCustomers(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.store.ListCustomers()
	if err != nil {
		appLog.Error("api customers: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read customers")
		return
	}
	if entries == nil {
		entries = []model.DirectoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// candidateDTO is one customer home id waiting for a manual project choice.
type candidateDTO struct {
	HomeID     string                   `json:"home_id"`
	Domains    []string                 `json:"domains"`
	Candidates []model.ProjectCandidate `json:"candidates"`
}

// handleCandidates lists the customers enrichment could not resolve, with the
// projects offered for each.
func (s *Server) handleCandidates(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.store.ListCustomers()
	if err != nil {
		appLog.Error("api candidates: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read customers")
		return
	}

	out := make([]candidateDTO, 0)
	index := make(map[string]int)
	for _, e := range entries {
		if e.Enriched() || e.Candidates == "" {
			continue
		}
		if i, ok := index[e.HomeID]; ok {
			out[i].Domains = append(out[i].Domains, e.Domain)
			continue
		}
		var cands []model.ProjectCandidate
		if err := json.Unmarshal([]byte(e.Candidates), &cands); err != nil {
			appLog.Warn("api candidates: unreadable candidate list", "home_id", e.HomeID, "error", err)
		}
		if cands == nil {
			cands = []model.ProjectCandidate{}
		}
		index[e.HomeID] = len(out)
		out = append(out, candidateDTO{HomeID: e.HomeID, Domains: []string{e.Domain}, Candidates: cands})
	}
	writeJSON(w, http.StatusOK, out)
}

type meetingsResponse struct {
	Meetings   []model.Activity `json:"meetings"`
	RangeStart time.Time        `json:"range_start"`
	RangeEnd   time.Time        `json:"range_end"`
}

// handleMeetings previews the meetings a refresh would collect.
//
// GET /api/meetings?hours=24
func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	hours := parseIntDefault(r.URL.Query().Get("hours"), s.cfg.LookbackHours)
	if hours <= 0 {
		hours = s.cfg.LookbackHours
	}

	const meetingsCacheTTL = 30 * time.Second
	s.meetingsMu.RLock()
	mc := s.meetingsCache
	s.meetingsMu.RUnlock()
	if mc != nil && mc.hours == hours && time.Since(mc.updatedAt) < meetingsCacheTTL {
		writeJSON(w, http.StatusOK, mc.resp)
		return
	}

	now := time.Now().In(s.cfg.Location())
	resp := meetingsResponse{
		Meetings:   []model.Activity{},
		RangeStart: now.Add(-time.Duration(hours) * time.Hour),
		RangeEnd:   now,
	}
	if s.meetings != nil {
		ms, err := s.meetings.Meetings(r.Context(), resp.RangeStart, resp.RangeEnd)
		if err != nil {
			appLog.Error("api meetings: collect failed", err)
			writeError(w, http.StatusBadGateway, "failed to fetch calendars")
			return
		}
		if ms != nil {
			resp.Meetings = ms
		}
	}

	s.meetingsMu.Lock()
	s.meetingsCache = &meetingsCache{resp: resp, hours: hours, updatedAt: time.Now()}
	s.meetingsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// handleRun performs a refresh-and-log cycle and returns its report. A run
// already in progress in this server answers 409.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runs are not enabled")
		return
	}
	if !s.runMu.TryLock() {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer s.runMu.Unlock()

	started := time.Now()
	rep, err := s.runner.Run(r.Context())
	s.RecordRun(started, rep, err)

	switch {
	case errors.Is(err, app.ErrLocked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrNoBatch):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		appLog.Error("api run failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
