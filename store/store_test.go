package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/collapsinghierarchy/rewardgate/store"
)

func TestTransient(t *testing.T) {
	if store.Transient("count claims", nil) != nil {
		t.Fatal("nil error should stay nil")
	}

	err := store.Transient("count claims", context.DeadlineExceeded)
	if !errors.Is(err, store.ErrTransient) {
		t.Error("expected ErrTransient")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause not unwrapped")
	}
	if errors.Is(err, store.ErrConflict) {
		t.Error("transient error matched ErrConflict")
	}
	var te *store.TransientError
	if !errors.As(err, &te) || te.Op != "count claims" {
		t.Errorf("errors.As: %+v", te)
	}
	if got := err.Error(); got != "count claims: context deadline exceeded" {
		t.Errorf("Error(): %q", got)
	}
}
