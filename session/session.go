package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/rewardgate/model"
)

// ErrBusy is returned by Begin while another flow holds the session.
var ErrBusy = errors.New("request already in progress")

// Session is the in-memory state of one visitor's page.
type Session struct {
	ID uuid.UUID

	mu            sync.Mutex
	state         State
	busy          bool
	form          model.ClaimForm
	errMsg        string
	clearPasscode bool
	name          string
	rank          int
}

// View is the JSON shape the page renders from.
type View struct {
	State         State           `json:"state"`
	Error         string          `json:"error,omitempty"`
	ClearPasscode bool            `json:"clear_passcode,omitempty"`
	Busy          bool            `json:"busy"`
	Name          string          `json:"name,omitempty"`
	Rank          int             `json:"rank,omitempty"`
	Form          model.ClaimForm `json:"form"`
}

// New returns a LOCKED session.
func New() *Session {
	return &Session{ID: uuid.New(), state: Locked}
}

// Begin marks the session busy. Every successful Begin must be paired
// with End.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.errMsg = ""
	s.clearPasscode = false
	return nil
}

// End clears the busy flag.
func (s *Session) End() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply moves the session along ev and records msg as the visible error.
func (s *Session) Apply(ev Event, msg string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Transition(s.state, ev)
	s.errMsg = msg
	return s.state
}

// RejectPasscode records a failed passcode attempt and asks the page to
// clear its input.
func (s *Session) RejectPasscode(ev Event, msg string) State {
	st := s.Apply(ev, msg)
	s.mu.Lock()
	s.clearPasscode = true
	s.mu.Unlock()
	return st
}

// SetForm keeps the fields the visitor entered so they survive a failed
// submission.
func (s *Session) SetForm(f model.ClaimForm) {
	s.mu.Lock()
	s.form = f
	s.mu.Unlock()
}

// SetResult records who claimed and at which rank.
func (s *Session) SetResult(name string, rank int) {
	s.mu.Lock()
	s.name = name
	s.rank = rank
	s.mu.Unlock()
}

// Snapshot returns a copy of the session for rendering.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		State:         s.state,
		Error:         s.errMsg,
		ClearPasscode: s.clearPasscode,
		Busy:          s.busy,
		Name:          s.name,
		Rank:          s.rank,
		Form:          s.form,
	}
}
