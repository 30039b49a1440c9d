// Package rest talks to a hosted PostgREST backend (for example Supabase)
// over HTTPS.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/collapsinghierarchy/rewardgate/model"
	"github.com/collapsinghierarchy/rewardgate/pkc/digest"
	"github.com/collapsinghierarchy/rewardgate/store"
)

const (
	SecretsEndpoint = "/secrets"
	ClaimsEndpoint  = "/claims"
)

type Store struct {
	*BaseClient
}

var _ store.Store = (*Store)(nil)

// NewStore returns a gateway for the PostgREST root at baseURL
// authenticated with apiKey.
func NewStore(baseURL, apiKey string) *Store {
	s := &Store{BaseClient: NewBaseClient(baseURL)}
	s.SetHeader("apikey", apiKey)
	s.SetHeader("Authorization", "Bearer "+apiKey)
	s.SetHeader("Accept", "application/json")
	return s
}

type claimRow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Roll      string    `json:"roll"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) CountClaims(ctx context.Context) (int, error) {
	resp, err := s.MakeRequest(ctx, http.MethodHead, ClaimsEndpoint+"?select=id", nil,
		map[string]string{"Prefer": "count=exact"})
	if err != nil {
		return 0, store.Transient("count claims", err)
	}
	n, err := parseContentRangeTotal(resp.header.Get("Content-Range"))
	if err != nil {
		return 0, store.Transient("count claims", err)
	}
	return n, nil
}

func (s *Store) SecretExists(ctx context.Context, hash string) (bool, error) {
	endpoint := fmt.Sprintf("%s?select=hash&hash=eq.%s&limit=1", SecretsEndpoint, url.QueryEscape(hash))
	resp, err := s.MakeRequest(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return false, store.Transient("lookup secret", err)
	}
	var rows []model.Secret
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return false, store.Transient("lookup secret", fmt.Errorf("failed to unmarshal response: %w", err))
	}
	for _, r := range rows {
		if digest.Equal(r.Hash, hash) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) InsertClaim(ctx context.Context, c *model.Claim) error {
	payload, err := json.Marshal([]claimRow{{
		ID:        c.ID.String(),
		Name:      c.Name,
		Roll:      c.Roll,
		Email:     c.Email,
		CreatedAt: c.CreatedAt.UTC(),
	}})
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}
	_, err = s.MakeRequest(ctx, http.MethodPost, ClaimsEndpoint, bytes.NewReader(payload),
		map[string]string{
			"Content-Type": "application/json",
			"Prefer":       "return=minimal",
		})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == store.UniqueViolation {
		return store.ErrConflict
	}
	return store.Transient("insert claim", err)
}

// parseContentRangeTotal extracts the total from "0-24/57" or "*/0".
func parseContentRangeTotal(v string) (int, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	total := v[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("no exact count in Content-Range %q", v)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", v, err)
	}
	return n, nil
}
