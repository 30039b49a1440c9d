package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collapsinghierarchy/rewardgate/model"
	"github.com/collapsinghierarchy/rewardgate/store"
)

type pgStore struct{ db *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) store.Store { return &pgStore{db: db} }

// -------- claims -----------------------------------------------------------

func (p *pgStore) CountClaims(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM claims`).Scan(&n)
	if err != nil {
		return 0, store.Transient("count claims", err)
	}
	return n, nil
}

func (p *pgStore) InsertClaim(ctx context.Context, c *model.Claim) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO claims (id, name, roll, email, created_at)
         VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.Name, c.Roll, c.Email, c.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return store.Transient("insert claim", err)
}

// -------- secrets ----------------------------------------------------------

func (p *pgStore) SecretExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM secrets WHERE hash=$1)`, hash).Scan(&exists)
	if err != nil {
		return false, store.Transient("lookup secret", err)
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == store.UniqueViolation
}
