/*Package httpapi exposes the operator surface of the electromagnet field
controller over HTTP: set target, enable/disable, E-stop, gains, and
session start/stop, plus a read-only sample snapshot. The Interlock
middleware gives E-stop absolute priority over every other route.
*/
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/ejshaman54/electromagnet-control-program/control"
	"github.com/ejshaman54/electromagnet-control-program/fieldctl"
	"github.com/ejshaman54/electromagnet-control-program/telemetry"
)

// Interlock is an HTTP middleware giving E-stop absolute precedence: once
// latched, every route except the allowlist (estop itself, and enable, so
// an operator can recover) is bounced with 423 Locked. The lock is set BY
// an E-stop, not by an operator choice, and only an explicit re-enable
// clears it.
type Interlock struct {
	latched int32

	// AllowWhenLatched lists path suffixes still served while latched
	// (the E-stop route itself, and the enable route, so the operator can
	// recover).
	AllowWhenLatched []string
}

// NewInterlock returns an unlatched Interlock allowing /estop and /enable
// through even once latched.
func NewInterlock() *Interlock {
	return &Interlock{AllowWhenLatched: []string{"/estop", "/enable"}}
}

// Latch sets the interlock, per an E-stop event.
func (l *Interlock) Latch() { atomic.StoreInt32(&l.latched, 1) }

// Clear releases the interlock, per a successful re-enable.
func (l *Interlock) Clear() { atomic.StoreInt32(&l.latched, 0) }

// Latched reports whether the interlock is set.
func (l *Interlock) Latched() bool { return atomic.LoadInt32(&l.latched) != 0 }

// Check is the middleware itself.
func (l *Interlock) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Latched() {
			allowed := false
			for _, p := range l.AllowWhenLatched {
				if strings.HasSuffix(r.URL.Path, p) {
					allowed = true
					break
				}
			}
			if !allowed {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Server wires a *control.Session behind chi routes.
type Server struct {
	Session   *control.Session
	Interlock *Interlock
	Router    chi.Router
}

// NewServer returns a Server with all routes bound.
func NewServer(sess *control.Session) *Server {
	s := &Server{
		Session:   sess,
		Interlock: NewInterlock(),
	}
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(s.Interlock.Check)

	r.Post("/target", s.handleTarget)
	r.Post("/enable", s.handleEnable)
	r.Post("/estop", s.handleEStop)
	r.Post("/gains", s.handleGains)
	r.Post("/session/start", s.handleSessionStart)
	r.Post("/session/stop", s.handleSessionStop)
	r.Get("/sample", s.handleSample)

	s.Router = r
	return s
}

type targetRequest struct {
	Teslas float64 `json:"teslas"`
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Session.SetTarget(req.Teslas)
	w.WriteHeader(http.StatusOK)
}

type enableRequest struct {
	Bool bool `json:"bool"`
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if err := s.Session.SetEnabled(ctx, req.Bool); err != nil {
		writeErr(w, err)
		return
	}
	if req.Bool {
		s.Interlock.Clear()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleEStop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.Interlock.Latch()
	if err := s.Session.EStop(ctx); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type gainsRequest struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

func (s *Server) handleGains(w http.ResponseWriter, r *http.Request) {
	var req gainsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Session.ConfigureGains(fieldctl.Gains{Kp: req.Kp, Ki: req.Ki, Kd: req.Kd})
	w.WriteHeader(http.StatusOK)
}

type sessionStartRequest struct {
	BasePath  string                     `json:"base_path"`
	Overwrite bool                       `json:"overwrite"`
	Meta      telemetry.SessionMetadata  `json:"meta"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Session.StartSession(req.BasePath, req.Meta, req.Overwrite, time.Now().UTC()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.StopSession(); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	samp := s.Session.LastSample()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(samp)
}

func writeErr(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
