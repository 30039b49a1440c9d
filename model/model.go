package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Claim is one consumed slot of the reward pool.
type Claim struct {
	ID        uuid.UUID
	Name      string
	Roll      string // unique across claims
	Email     string
	CreatedAt time.Time
}

// Secret is an accepted passcode digest. Rows are provisioned out of band.
type Secret struct {
	Hash string `json:"hash"`
}

// ClaimForm holds the fields a visitor types into the claim form.
type ClaimForm struct {
	Name  string `json:"name"`
	Roll  string `json:"roll"`
	Email string `json:"email"`
}

// Trimmed returns the form with surrounding whitespace removed from every field.
func (f ClaimForm) Trimmed() ClaimForm {
	return ClaimForm{
		Name:  strings.TrimSpace(f.Name),
		Roll:  strings.TrimSpace(f.Roll),
		Email: strings.TrimSpace(f.Email),
	}
}

// Complete reports whether every field is non-blank after trimming.
func (f ClaimForm) Complete() bool {
	t := f.Trimmed()
	return t.Name != "" && t.Roll != "" && t.Email != ""
}
