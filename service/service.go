package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/collapsinghierarchy/rewardgate/model"
	"github.com/collapsinghierarchy/rewardgate/notify"
	"github.com/collapsinghierarchy/rewardgate/pkc/digest"
	"github.com/collapsinghierarchy/rewardgate/session"
	"github.com/collapsinghierarchy/rewardgate/store"
)

// DefaultLimit is the size of the reward pool.
const DefaultLimit = 50

// The count check before an insert is advisory: two visitors can both pass
// it before either inserts. Only the unique constraint on claims.roll is
// enforced by storage, and the rank handed out is count+1 at check time,
// which can repeat or skip under concurrent submissions.

type Service struct {
	Store     store.Store // dependency-injected DAL interface
	limit     int
	timeout   time.Duration // per gateway call
	hasher    *digest.Hasher
	clock     clockwork.Clock
	publisher notify.Publisher
}

type Option func(*Service)

func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func WithHasher(h *digest.Hasher) Option { return func(s *Service) { s.hasher = h } }

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func WithPublisher(p notify.Publisher) Option { return func(s *Service) { s.publisher = p } }

func New(st store.Store, limit int, opts ...Option) *Service {
	h, _ := digest.New(digest.SHA256)
	s := &Service{
		Store:     st,
		limit:     limit,
		timeout:   5 * time.Second,
		hasher:    h,
		clock:     clockwork.NewRealClock(),
		publisher: notify.Nop{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Limit is the configured pool size.
func (s *Service) Limit() int { return s.limit }

// Pool summarises reward availability.
type Pool struct {
	Limit     int  `json:"limit"`
	Claimed   int  `json:"claimed"`
	Remaining int  `json:"remaining"`
	Exhausted bool `json:"exhausted"`
}

// Result is a recorded claim and the rank it was given.
type Result struct {
	Claim *model.Claim
	Rank  int
}

func (s *Service) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) countClaims(ctx context.Context) (int, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()
	n, err := s.Store.CountClaims(ctx)
	if err != nil && !errors.Is(err, store.ErrTransient) {
		err = store.Transient("count claims", err)
	}
	return n, err
}

// PoolStatus reports the current pool. The error is ErrTransient when the
// count is unknown.
func (s *Service) PoolStatus(ctx context.Context) (Pool, error) {
	n, err := s.countClaims(ctx)
	if err != nil {
		return Pool{}, err
	}
	remaining := s.limit - n
	if remaining < 0 {
		remaining = 0
	}
	return Pool{Limit: s.limit, Claimed: n, Remaining: remaining, Exhausted: n >= s.limit}, nil
}

// CheckAvailability moves sess to EXHAUSTED when the pool is full and
// reports whether it did. A failed count leaves sess untouched.
func (s *Service) CheckAvailability(ctx context.Context, sess *session.Session) bool {
	n, err := s.countClaims(ctx)
	if err != nil {
		log.Warn().Err(err).Str("session", sess.ID.String()).Msg("availability check failed, assuming open")
		return false
	}
	if n >= s.limit {
		sess.Apply(session.PoolExhausted, "")
		log.Info().Str("session", sess.ID.String()).Int("claims", n).Int("limit", s.limit).Msg("reward pool exhausted")
		return true
	}
	return false
}

// VerifyPasscode checks passcode against the stored digests and unlocks
// sess when it matches and the pool is still open.
func (s *Service) VerifyPasscode(ctx context.Context, sess *session.Session, passcode string) error {
	if err := sess.Begin(); err != nil {
		return err
	}
	defer sess.End()

	switch sess.State() {
	case session.Locked:
	case session.Exhausted:
		return ErrPoolExhausted
	default:
		return ErrWrongState
	}

	if s.CheckAvailability(ctx, sess) {
		return ErrPoolExhausted
	}

	if strings.TrimSpace(passcode) == "" {
		sess.RejectPasscode(session.PasscodeRejected, Message(ErrInvalidPasscode))
		return ErrInvalidPasscode
	}

	hash, err := s.hasher.Sum(passcode)
	if err != nil {
		log.Warn().Err(err).Str("session", sess.ID.String()).Msg("passcode digest failed")
		sess.RejectPasscode(session.GatewayFailed, Message(ErrVerification))
		return ErrVerification
	}

	lookupCtx, cancel := s.call(ctx)
	found, err := s.Store.SecretExists(lookupCtx, hash)
	cancel()
	if err != nil {
		// Reported to the visitor exactly like a wrong passcode.
		log.Error().Err(err).Str("session", sess.ID.String()).Msg("secret lookup failed")
		found = false
	}
	if !found {
		sess.RejectPasscode(session.PasscodeRejected, Message(ErrInvalidPasscode))
		log.Info().Str("session", sess.ID.String()).Msg("passcode rejected")
		return ErrInvalidPasscode
	}

	if s.CheckAvailability(ctx, sess) {
		return ErrPoolExhausted
	}

	sess.Apply(session.PasscodeAccepted, "")
	log.Info().Str("session", sess.ID.String()).Msg("passcode accepted")
	return nil
}

// SubmitClaim records form for an unlocked sess and computes its rank.
func (s *Service) SubmitClaim(ctx context.Context, sess *session.Session, form model.ClaimForm) (*Result, error) {
	if err := sess.Begin(); err != nil {
		return nil, err
	}
	defer sess.End()

	switch sess.State() {
	case session.Unlocked:
	case session.Exhausted:
		return nil, ErrPoolExhausted
	default:
		return nil, ErrWrongState
	}

	sess.SetForm(form)
	f := form.Trimmed()
	if !f.Complete() {
		sess.Apply(session.ClaimRejected, Message(ErrValidation))
		return nil, ErrValidation
	}

	n, err := s.countClaims(ctx)
	if err != nil {
		// Without a count there is no rank to hand out, so nothing is inserted.
		log.Warn().Err(err).Str("session", sess.ID.String()).Msg("pre-insert count failed")
		sess.Apply(session.GatewayFailed, Message(ErrTransient))
		return nil, err
	}
	if n >= s.limit {
		sess.Apply(session.PoolExhausted, "")
		log.Info().Str("session", sess.ID.String()).Int("claims", n).Msg("pool filled before insert")
		return nil, ErrPoolExhausted
	}

	claim := &model.Claim{
		ID:        uuid.New(),
		Name:      f.Name,
		Roll:      f.Roll,
		Email:     f.Email,
		CreatedAt: s.clock.Now().UTC(),
	}

	insertCtx, cancel := s.call(ctx)
	err = s.Store.InsertClaim(insertCtx, claim)
	cancel()
	switch {
	case errors.Is(err, store.ErrConflict):
		cerr := &ConflictError{Roll: f.Roll}
		sess.Apply(session.ClaimRejected, Message(cerr))
		log.Info().Str("session", sess.ID.String()).Str("roll", f.Roll).Msg("roll already registered")
		return nil, cerr
	case err != nil:
		if !errors.Is(err, store.ErrTransient) {
			err = store.Transient("insert claim", err)
		}
		log.Error().Err(err).Str("session", sess.ID.String()).Msg("claim insert failed")
		sess.Apply(session.GatewayFailed, Message(err))
		return nil, err
	}

	rank := n + 1
	sess.SetResult(f.Name, rank)
	sess.Apply(session.ClaimAccepted, "")
	log.Info().
		Str("session", sess.ID.String()).
		Str("claim_id", claim.ID.String()).
		Int("rank", rank).
		Msg("claim recorded")

	pubCtx, cancel := s.call(ctx)
	defer cancel()
	if err := s.publisher.PublishClaim(pubCtx, notify.ClaimCreated{
		ID:        claim.ID,
		Name:      claim.Name,
		Rank:      rank,
		CreatedAt: claim.CreatedAt,
	}); err != nil {
		log.Warn().Err(err).Str("claim_id", claim.ID.String()).Msg("claim event not published")
	}

	return &Result{Claim: claim, Rank: rank}, nil
}
