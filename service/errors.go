package service

import (
	"errors"
	"fmt"

	"github.com/collapsinghierarchy/rewardgate/session"
	"github.com/collapsinghierarchy/rewardgate/store"
)

var (
	ErrValidation      = errors.New("missing required fields")
	ErrInvalidPasscode = errors.New("invalid passcode")
	ErrVerification    = errors.New("verification failed")
	ErrPoolExhausted   = errors.New("reward pool exhausted")
	ErrWrongState      = errors.New("action not allowed in current state")

	ErrConflict  = store.ErrConflict
	ErrTransient = store.ErrTransient
	ErrBusy      = session.ErrBusy
)

// ConflictError reports a roll that is already registered.
type ConflictError struct {
	Roll string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("roll %q already registered", e.Roll)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Message maps err to the fixed text shown to visitors. Backend detail
// never reaches the page.
func Message(err error) string {
	var conflict *ConflictError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &conflict):
		return fmt.Sprintf("ERROR: ROLL NUMBER %s ALREADY REGISTERED", conflict.Roll)
	case errors.Is(err, ErrValidation):
		return "MISSING REQUIRED FIELDS"
	case errors.Is(err, ErrInvalidPasscode):
		return "ACCESS DENIED: INVALID PASSCODE"
	case errors.Is(err, ErrVerification):
		return "SYSTEM ERROR: VERIFICATION FAILED"
	case errors.Is(err, ErrPoolExhausted):
		return "REWARDS EXHAUSTED"
	case errors.Is(err, ErrBusy):
		return "REQUEST IN PROGRESS"
	case errors.Is(err, ErrWrongState):
		return "ACTION NOT AVAILABLE"
	case errors.Is(err, ErrTransient):
		return "DB ERROR: CLAIM NOT RECORDED, TRY AGAIN"
	default:
		return "FATAL ERROR: TRANSACTION FAILED"
	}
}
