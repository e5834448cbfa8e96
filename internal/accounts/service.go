package accounts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"payments-portal/internal/apperr"
	"payments-portal/internal/audit"
	"payments-portal/internal/auth"
	"payments-portal/internal/config"
	"payments-portal/internal/metrics"
	"payments-portal/pkg/logger"

	"github.com/google/uuid"
)

// Service authenticates principals and issues session tokens.
//
// Lockout is a policy on top of the ledger: the counter lives on the account,
// and every outcome is also recorded as a ledger entry.
type Service struct {
	repo   Repository
	tokens *auth.Manager
	ledger *audit.Ledger
	policy config.LoginConfig
	ttl    time.Duration
	log    *slog.Logger
	clock  func() time.Time

	// dummyHash keeps unknown-user logins as slow as wrong-password ones.
	dummyHash string
}

func NewService(repo Repository, tokens *auth.Manager, ledger *audit.Ledger, authCfg config.AuthConfig, policy config.LoginConfig, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if policy.MaxFailedAttempts <= 0 || policy.LockoutDuration <= 0 {
		return nil, errors.New("accounts: lockout policy must be positive")
	}
	dummy, err := HashPassword(uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:      repo,
		tokens:    tokens,
		ledger:    ledger,
		policy:    policy,
		ttl:       authCfg.SessionTTL,
		log:       log,
		clock:     time.Now,
		dummyHash: dummy,
	}, nil
}

// Provision creates an account with a hashed password.
func (s *Service) Provision(ctx context.Context, username, password string, ptype auth.PrincipalType) (Account, error) {
	username = normalizeUsername(username)
	if username == "" || !ptype.Valid() {
		return Account{}, apperr.New(apperr.InvalidRequest, "username and principal type required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, apperr.Wrap(apperr.InvalidRequest, err.Error(), err)
	}
	a := Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Type:         ptype,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Account{}, apperr.Wrap(apperr.InvalidRequest, "username already exists", err)
		}
		return Account{}, apperr.Storage(err)
	}
	return a, nil
}

// Login checks credentials. Unknown users and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, username, password string, prov audit.Provenance) (Session, error) {
	username = normalizeUsername(username)
	now := s.clock().UTC()
	unauthenticated := apperr.New(apperr.Unauthenticated, "invalid username or password")

	if username == "" || password == "" {
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		return Session{}, unauthenticated
	}

	a, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		_ = checkPassword(s.dummyHash, password)
		s.record(ctx, audit.ActionLoginFailed, "unknown:"+username, audit.LoginMetadata{Username: username}, prov)
		metrics.LoginAttempts.WithLabelValues("failed").Inc()
		return Session{}, unauthenticated
	}
	if err != nil {
		return Session{}, apperr.Storage(err)
	}

	if a.Locked(now) {
		s.record(ctx, audit.ActionLoginFailed, a.ID, loginMeta(a), prov)
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		return Session{}, apperr.New(apperr.AccountLocked, "account temporarily locked")
	}

	if a.LockedUntil != nil {
		// Lock expired: start a fresh window.
		if err := s.repo.ResetFailures(ctx, a.ID); err != nil {
			return Session{}, apperr.Storage(err)
		}
		a.FailedAttempts = 0
		a.LockedUntil = nil
	}

	if !checkPassword(a.PasswordHash, password) {
		return Session{}, s.fail(ctx, a, now, prov, unauthenticated)
	}

	if a.FailedAttempts > 0 {
		if err := s.repo.ResetFailures(ctx, a.ID); err != nil {
			return Session{}, apperr.Storage(err)
		}
		a.FailedAttempts = 0
	}

	tok, err := s.tokens.IssueSession(now, a.ID, a.Type)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.Internal, "sign session", err)
	}
	s.record(ctx, audit.ActionLoginSucceeded, a.ID, loginMeta(a), prov)
	metrics.LoginAttempts.WithLabelValues("ok").Inc()
	logger.FromOr(ctx, s.log).Info("login succeeded", "principal_id", a.ID, "principal_type", a.Type)

	return Session{
		Token:         tok,
		PrincipalID:   a.ID,
		PrincipalType: a.Type,
		ExpiresAt:     now.Add(s.ttl),
	}, nil
}

func (s *Service) fail(ctx context.Context, a Account, now time.Time, prov audit.Provenance, unauthenticated error) error {
	updated, err := s.repo.RegisterFailure(ctx, a.ID, s.policy.MaxFailedAttempts, now.Add(s.policy.LockoutDuration))
	if err != nil {
		return apperr.Storage(err)
	}
	s.record(ctx, audit.ActionLoginFailed, a.ID, loginMeta(updated), prov)
	metrics.LoginAttempts.WithLabelValues("failed").Inc()

	if updated.Locked(now) && !a.Locked(now) {
		s.record(ctx, audit.ActionAccountLocked, a.ID, loginMeta(updated), prov)
		logger.FromOr(ctx, s.log).Warn("account locked", "principal_id", a.ID, "failed_attempts", updated.FailedAttempts)
	}
	return unauthenticated
}

// record writes a login outcome. Login does not fail when the ledger is
// unavailable; the miss is logged instead.
func (s *Service) record(ctx context.Context, action audit.Action, entityID string, meta audit.LoginMetadata, prov audit.Provenance) {
	if _, err := s.ledger.Append(ctx, audit.Input{
		EntityType: audit.EntityAccount,
		EntityID:   entityID,
		Action:     action,
		Provenance: prov,
		Metadata:   meta,
	}); err != nil {
		logger.FromOr(ctx, s.log).Error("failed to record login outcome", "action", action, "entity_id", entityID, "err", err)
	}
}

func loginMeta(a Account) audit.LoginMetadata {
	m := audit.LoginMetadata{
		Username:       a.Username,
		PrincipalType:  string(a.Type),
		FailedAttempts: a.FailedAttempts,
	}
	if a.LockedUntil != nil {
		m.LockedUntil = audit.FormatTimestamp(*a.LockedUntil)
	}
	return m
}
