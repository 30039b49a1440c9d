package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/collapsinghierarchy/rewardgate/model"
)

// Store is the gateway to the secrets and claims tables.
type Store interface {
	// CountClaims returns the number of stored claims.
	CountClaims(ctx context.Context) (int, error)
	// SecretExists reports whether hash is an accepted passcode digest.
	SecretExists(ctx context.Context, hash string) (bool, error)
	// InsertClaim persists c. It returns ErrConflict when c.Roll is taken.
	InsertClaim(ctx context.Context, c *model.Claim) error
}

// UniqueViolation is the SQLSTATE for a unique constraint violation.
const UniqueViolation = "23505"

var (
	ErrConflict  = errors.New("roll already registered")
	ErrTransient = errors.New("storage unavailable")
)

// TransientError wraps a network or service failure of a gateway call.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// Transient wraps err as a TransientError for op. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}
