package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dragcal/internal/config"
	"dragcal/internal/drag"
	"dragcal/internal/geom"
	applog "dragcal/internal/log"
	"dragcal/internal/model"
	"dragcal/internal/obs"
	"dragcal/internal/snap"
	"dragcal/internal/store"
)

// sessionTTL bounds how long an abandoned drag session is kept before
// the sweep discards it.
const sessionTTL = 15 * time.Minute

// Server provides the HTTP API: occurrence listing, drag session
// lifecycle, metrics, and the embedded grid UI.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	metrics *obs.Metrics
	reg     *prometheus.Registry
	mux     *http.ServeMux

	sessionMu    sync.Mutex
	sessions     map[uuid.UUID]*dragSession
	snapFallback snap.Resolver
}

// dragSession is one client-driven gesture: an engine bound to a single
// occurrence plus the session's own drop-zone index.
type dragSession struct {
	id        uuid.UUID
	occ       model.Occurrence
	engine    *drag.Engine
	grid      *snap.GridIndex
	createdAt time.Time

	mu        sync.Mutex
	committed *previewDTO // set by the engine's commit callback
	applied   bool
}

// embeddedStatic holds the demo grid page served at /.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a Server. metrics may be nil (e.g. in tests); the
// /metrics endpoint is then served from an empty registry.
func NewServer(cfg *config.Config, st *store.Store, metrics *obs.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		metrics:  metrics,
		reg:      prometheus.NewRegistry(),
		mux:      http.NewServeMux(),
		sessions: make(map[uuid.UUID]*dragSession),
	}
	if metrics != nil {
		if err := metrics.Register(s.reg); err != nil {
			applog.Error("metrics registration failed", err)
		}
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		applog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// SetSnapFallback installs a resolver consulted for sessions that have no
// client-registered drop-zones, typically the DOM hit-test backend. Safe
// to call while the server is running; in-flight sessions keep whatever
// resolver they were created with.
func (s *Server) SetSnapFallback(r snap.Resolver) {
	s.sessionMu.Lock()
	s.snapFallback = r
	s.sessionMu.Unlock()
}

func (s *Server) snapFallbackResolver() snap.Resolver {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.snapFallback
}

// Serve runs the API on cfg.Listen until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	applog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays reachable without credentials.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="DragCal", charset="UTF-8"`)
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

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)

	s.mux.HandleFunc("POST /api/drag", s.handleSessionCreate)
	s.mux.HandleFunc("GET /api/drag/{id}", s.handleSessionState)
	s.mux.HandleFunc("POST /api/drag/{id}/zones", s.handleSessionZones)
	s.mux.HandleFunc("POST /api/drag/{id}/input", s.handleSessionInput)
	s.mux.HandleFunc("POST /api/drag/{id}/apply", s.handleSessionApply)
	s.mux.HandleFunc("DELETE /api/drag/{id}", s.handleSessionDelete)

	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	// Embedded grid UI for everything else.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded grid page from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		applog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// API paths never fall through to the static UI.
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// ---- occurrence listing ----

type occurrenceDTO struct {
	SourceID    string    `json:"source_id"`
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type eventsResponse struct {
	Occurrences   []occurrenceDTO `json:"occurrences"`
	TruncatedUIDs []string        `json:"truncated_uids,omitempty"`
	OverlayFeeds  []string        `json:"overlay_feeds,omitempty"`
	RangeStart    time.Time       `json:"range_start"`
	RangeEnd      time.Time       `json:"range_end"`
	WeekStart     string          `json:"week_start"`
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	occ, rangeStart, rangeEnd, _ := s.store.Snapshot()

	dtos := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		dtos = append(dtos, occurrenceDTO{
			SourceID:    o.SourceID,
			UID:         o.UID,
			InstanceKey: o.InstanceKey,
			Summary:     o.Summary,
			Description: o.Description,
			Location:    o.Location,
			AllDay:      o.AllDay,
			Start:       o.Start,
			End:         o.End,
		})
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Occurrences:   dtos,
		TruncatedUIDs: s.store.TruncatedUIDs(),
		OverlayFeeds:  s.store.OverlayFeeds(),
		RangeStart:    rangeStart,
		RangeEnd:      rangeEnd,
		WeekStart:     s.cfg.WeekStart,
	})
}

// ---- drag sessions ----

type sessionCreateRequest struct {
	UID         string `json:"uid"`
	InstanceKey string `json:"instance_key"`
}

type previewDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type sessionStateResponse struct {
	SessionID   string      `json:"session_id"`
	UID         string      `json:"uid"`
	InstanceKey string      `json:"instance_key"`
	IsDragging  bool        `json:"is_dragging"`
	Preview     *previewDTO `json:"preview,omitempty"`
	Committed   *previewDTO `json:"committed,omitempty"`
	Applied     bool        `json:"applied"`
	EventStart  time.Time   `json:"event_start"`
	EventEnd    time.Time   `json:"event_end"`
}

type zoneDTO struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Date   string  `json:"date"`
}

type zonesRequest struct {
	Zones []zoneDTO `json:"zones"`
}

type inputRequest struct {
	// Modality is "mouse" or "touch".
	Modality string `json:"modality"`

	// Mouse fields.
	Type   string  `json:"type"`
	Button int     `json:"button"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`

	// Touch fields.
	Touches []struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"touches,omitempty"`
}

type applyRequest struct {
	// Series is the confirmation dialog's single contribution: apply to
	// the whole recurring series instead of just this occurrence.
	Series bool `json:"series"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	occ, ok := s.store.Find(req.UID, req.InstanceKey)
	if !ok {
		writeError(w, http.StatusNotFound, "occurrence not found")
		return
	}

	ev := occ.Event()
	if !ev.End.After(ev.Start) {
		writeError(w, http.StatusInternalServerError, "occurrence has invalid time range")
		return
	}

	sess := &dragSession{
		id:        uuid.New(),
		occ:       occ,
		grid:      snap.NewGridIndex(),
		createdAt: time.Now(),
	}

	resolver := snap.Resolver(sess.grid)
	if fb := s.snapFallbackResolver(); fb != nil {
		grid := sess.grid
		resolver = snap.ResolverFunc(func(p geom.Point) (snap.Date, bool) {
			// Client-reported zones take precedence; the fallback only
			// answers while none are registered.
			if grid.Len() > 0 {
				return grid.Resolve(p)
			}
			return fb.Resolve(p)
		})
	}
	if s.metrics != nil {
		inner := resolver
		resolver = snap.ResolverFunc(func(p geom.Point) (snap.Date, bool) {
			d, hit := inner.Resolve(p)
			if hit {
				s.metrics.SnapHits.Inc()
			}
			return d, hit
		})
	}

	sess.engine = drag.New(&ev,
		func(newStart, newEnd time.Time) {
			sess.mu.Lock()
			sess.committed = &previewDTO{Start: newStart, End: newEnd}
			sess.mu.Unlock()
		},
		drag.Options{
			LockTime:    s.cfg.Drag.LockTime,
			PxPerDay:    s.cfg.Drag.PxPerDay,
			PxPerMinute: s.cfg.Drag.PxPerMinute,
			Resolver:    resolver,
			Feedback:    s.feedbackFunc(),
		},
	)

	s.sessionMu.Lock()
	s.sweepLocked()
	s.sessions[sess.id] = sess
	s.sessionMu.Unlock()

	applog.Info("drag session created",
		"session", sess.id.String(), "uid", occ.UID, "instance", occ.InstanceKey)
	writeJSON(w, http.StatusCreated, s.stateDTO(sess))
}

// feedbackFunc adapts the engine's visual-feedback hook to the active
// session gauge. The engine calls it with true on start and false on
// every exit path.
func (s *Server) feedbackFunc() drag.FeedbackFunc {
	if s.metrics == nil {
		return nil
	}
	return func(dragging bool) {
		if dragging {
			s.metrics.SessionsStarted.Inc()
			s.metrics.ActiveSessions.Inc()
		} else {
			s.metrics.ActiveSessions.Dec()
		}
	}
}

func (s *Server) handleSessionZones(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req zonesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess.grid.Reset()
	rejected := 0
	for _, z := range req.Zones {
		rect := geom.Rect{X: z.X, Y: z.Y, Width: z.Width, Height: z.Height}
		if err := sess.grid.Register(rect, z.Date); err != nil {
			// A malformed zone just cannot be snapped to.
			rejected++
		}
	}
	if rejected > 0 {
		applog.Debug("drop-zone registration skipped malformed entries",
			"session", sess.id.String(), "rejected", rejected)
	}

	writeJSON(w, http.StatusOK, map[string]int{"registered": sess.grid.Len()})
}

func (s *Server) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var (
		p      drag.Pointer
		mapped bool
	)
	switch req.Modality {
	case "touch":
		touches := make([]geom.Point, 0, len(req.Touches))
		for _, t := range req.Touches {
			touches = append(touches, geom.Point{X: t.X, Y: t.Y})
		}
		p, mapped = drag.FromTouch(drag.TouchEvent{Type: req.Type, Touches: touches})
	case "mouse", "":
		p, mapped = drag.FromMouse(drag.MouseEvent{Type: req.Type, Button: req.Button, X: req.X, Y: req.Y})
	default:
		writeError(w, http.StatusBadRequest, "unknown input modality")
		return
	}

	if mapped {
		wasDragging := sess.engine.IsDragging()
		sess.engine.Handle(p)

		if s.metrics != nil && wasDragging && !sess.engine.IsDragging() {
			sess.mu.Lock()
			committed := sess.committed != nil
			sess.mu.Unlock()
			switch {
			case p.Phase == drag.PhaseCancel:
				s.metrics.SessionsEnded.WithLabelValues("cancelled").Inc()
			case committed:
				s.metrics.SessionsEnded.WithLabelValues("committed").Inc()
			default:
				s.metrics.SessionsEnded.WithLabelValues("discarded").Inc()
			}
		}
	}

	writeJSON(w, http.StatusOK, s.stateDTO(sess))
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, s.stateDTO(sess))
}

func (s *Server) handleSessionApply(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess.mu.Lock()
	committed := sess.committed
	alreadyApplied := sess.applied
	sess.mu.Unlock()

	if committed == nil {
		writeError(w, http.StatusConflict, "no committed reschedule in this session")
		return
	}
	if alreadyApplied {
		writeError(w, http.StatusConflict, "reschedule already applied")
		return
	}

	moved, err := s.store.Reschedule(sess.occ.UID, sess.occ.InstanceKey,
		committed.Start, committed.End, req.Series)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "occurrence no longer exists")
			return
		}
		applog.Error("reschedule apply failed", err, "session", sess.id.String())
		writeError(w, http.StatusInternalServerError, "failed to apply reschedule")
		return
	}

	sess.mu.Lock()
	sess.applied = true
	sess.mu.Unlock()

	writeJSON(w, http.StatusOK, occurrenceDTO{
		SourceID:    moved.SourceID,
		UID:         moved.UID,
		InstanceKey: moved.InstanceKey,
		Summary:     moved.Summary,
		Description: moved.Description,
		Location:    moved.Location,
		AllDay:      moved.AllDay,
		Start:       moved.Start,
		End:         moved.End,
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	s.sessionMu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.sessionMu.Unlock()

	if ok && sess.engine.IsDragging() {
		// Teardown mid-gesture follows the cancel path: no commit.
		sess.engine.Handle(drag.Pointer{Phase: drag.PhaseCancel})
		if s.metrics != nil {
			s.metrics.SessionsEnded.WithLabelValues("cancelled").Inc()
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) session(r *http.Request) (*dragSession, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return nil, false
	}
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// sweepLocked drops sessions past their TTL. Callers hold sessionMu.
func (s *Server) sweepLocked() {
	cutoff := time.Now().Add(-sessionTTL)
	for id, sess := range s.sessions {
		if sess.createdAt.Before(cutoff) {
			if sess.engine.IsDragging() {
				sess.engine.Handle(drag.Pointer{Phase: drag.PhaseCancel})
			}
			delete(s.sessions, id)
		}
	}
}

func (s *Server) stateDTO(sess *dragSession) sessionStateResponse {
	resp := sessionStateResponse{
		SessionID:   sess.id.String(),
		UID:         sess.occ.UID,
		InstanceKey: sess.occ.InstanceKey,
		IsDragging:  sess.engine.IsDragging(),
		EventStart:  sess.occ.Start,
		EventEnd:    sess.occ.End,
	}
	if start, end, ok := sess.engine.Preview(); ok {
		resp.Preview = &previewDTO{Start: start, End: end}
	}
	sess.mu.Lock()
	resp.Committed = sess.committed
	resp.Applied = sess.applied
	sess.mu.Unlock()
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
