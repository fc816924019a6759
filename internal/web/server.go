// Package web provides the HTTP front end for the physio-sensor daemon:
// a status page, live signal traces and an on-demand decision trigger.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/physio-sensor/internal/capture"
	"github.com/sweeney/physio-sensor/internal/display"
	"github.com/sweeney/physio-sensor/internal/session"
	"github.com/sweeney/physio-sensor/internal/status"
)

// Signals renders the current channel traces.
type Signals interface {
	RenderTick(now time.Time) display.Frame
}

// Decider runs one classification request to completion.
type Decider interface {
	Decide(ctx context.Context) (session.Decision, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	signals    Signals
	decider    Decider
	now        func() time.Time
}

// New creates a Server that reads state from the given tracker. signals and
// decider may be nil, in which case their endpoints answer 503.
func New(addr string, tracker *status.Tracker, signals Signals, decider Decider) *Server {
	s := &Server{
		tracker: tracker,
		signals: signals,
		decider: decider,
		now:     time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/signals.json", s.handleSignals)
	mux.HandleFunc("/decision", s.handleDecision)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if s.signals == nil {
		writeError(w, http.StatusServiceUnavailable, "no device connected")
		return
	}

	points := 0
	if p := r.URL.Query().Get("points"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 2 {
			writeError(w, http.StatusBadRequest, "points must be an integer >= 2")
			return
		}
		points = n
	}

	frame := s.signals.RenderTick(s.now())
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatSignals(frame, points))
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if s.decider == nil {
		writeError(w, http.StatusServiceUnavailable, "decisions unavailable")
		return
	}

	d, err := s.decider.Decide(r.Context())
	if err != nil {
		code := decisionErrorCode(err)
		if code == http.StatusInternalServerError {
			log.Printf("web: decision failed: %v", err)
		}
		writeError(w, code, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(formatDecision(d))
}

func decisionErrorCode(err error) int {
	switch {
	case errors.Is(err, session.ErrNotRecording), errors.Is(err, capture.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoModelLoaded), errors.Is(err, session.ErrCaptureCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorJSON struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorJSON{Error: msg})
}
