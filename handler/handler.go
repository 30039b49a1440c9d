package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/collapsinghierarchy/rewardgate/model"
	"github.com/collapsinghierarchy/rewardgate/service"
	"github.com/collapsinghierarchy/rewardgate/session"
)

// CookieName carries the session id.
const CookieName = "rg_session"

const maxBodyBytes = 4 << 10

type Server struct {
	svc      *service.Service
	sessions *session.Registry
}

type passcodeRequest struct {
	Passcode string `json:"passcode"`
}

// New returns a ready Server instance.
func New(svc *service.Service, sessions *session.Registry) *Server {
	return &Server{svc: svc, sessions: sessions}
}

// CreateSession always starts a fresh LOCKED session and runs the
// availability check the page performs on load.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.newSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Session returns the caller's current view.
func (s *Server) Session(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Passcode runs the verification flow.
func (s *Server) Passcode(w http.ResponseWriter, r *http.Request) {
	var req passcodeRequest
	if err := decode(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	err := s.svc.VerifyPasscode(r.Context(), sess, req.Passcode)
	s.respond(w, r, sess, err)
}

// Claim runs the submission flow.
func (s *Server) Claim(w http.ResponseWriter, r *http.Request) {
	var form model.ClaimForm
	if err := decode(w, r, &form); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	_, err := s.svc.SubmitClaim(r.Context(), sess, form)
	s.respond(w, r, sess, err)
}

// Pool reports how many rewards are left.
func (s *Server) Pool(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.PoolStatus(r.Context())
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("pool status unavailable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "POOL STATUS UNAVAILABLE"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// respond writes the session view. Flow outcomes, including rejections,
// are 200s with the state in the body; only requests the session could not
// act on get 409.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, sess *session.Session, err error) {
	view := sess.Snapshot()
	if errors.Is(err, service.ErrBusy) || errors.Is(err, service.ErrWrongState) {
		view.Error = service.Message(err)
		writeJSON(w, http.StatusConflict, view)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Debug().Err(err).Str("state", string(view.State)).Msg("flow rejected")
	}
	writeJSON(w, http.StatusOK, view)
}

// session resolves the cookie to a live session, starting a new one when
// the cookie is missing, malformed or expired. When it reports false the
// response has already been written.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if c, err := r.Cookie(CookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			if sess, ok := s.sessions.Get(id); ok {
				return sess, true
			}
		}
	}
	return s.newSession(w, r)
}

func (s *Server) newSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Create()
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("session not created")
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "TOO MANY SESSIONS"})
		return nil, false
	}
	s.svc.CheckAvailability(r.Context(), sess)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	hlog.FromRequest(r).Debug().Str("session", sess.ID.String()).Str("state", string(sess.State())).Msg("session created")
	return sess, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
