package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payments-portal/internal/accounts"
	"payments-portal/internal/audit"
	"payments-portal/internal/auth"
	"payments-portal/internal/authz"
	"payments-portal/internal/config"
	"payments-portal/internal/idempotency"
	"payments-portal/internal/payments"
	"payments-portal/pkg/utils"
)

// app holds the wired services. Everything is built once at startup and
// shared read-only by request handlers.
type app struct {
	tokens   *auth.Manager
	ledger   *audit.Ledger
	guard    *authz.Guard
	payments *payments.Service
	accounts *accounts.Service
	idem     *idempotency.Cache
	ping     func(ctx context.Context) error
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	tokens, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, cleanup, fmt.Errorf("auth init: %w", err)
	}

	var (
		ledgerRepo  audit.Repository
		paymentRepo payments.Repository
		accountRepo accounts.Repository
		ping        func(ctx context.Context) error
	)
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		mem := audit.NewMemoryRepo()
		ledgerRepo = mem
		paymentRepo = payments.NewMemoryRepo(mem)
		accountRepo = accounts.NewMemoryRepo()
		log.Warn("using in-memory store; data is lost on restart")
	default:
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, cleanup, fmt.Errorf("postgres init: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		ledgerRepo = audit.NewPostgresRepo(db)
		paymentRepo = payments.NewPostgresRepo(db)
		accountRepo = accounts.NewPostgresRepo(db)
		ping = func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) }
	}

	var idemStore idempotency.Store = idempotency.NewMemoryStore()
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: addr})
		if err != nil {
			return nil, cleanup, fmt.Errorf("redis init: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		if idemStore, err = idempotency.NewRedisStore(rdb); err != nil {
			return nil, cleanup, err
		}
	}

	ledger := audit.NewLedger(ledgerRepo, log)
	guard := authz.NewGuard(tokens, ledger, log)
	accountSvc, err := accounts.NewService(accountRepo, tokens, ledger, cfg.Auth, cfg.Login, log)
	if err != nil {
		return nil, cleanup, err
	}

	a := &app{
		tokens:   tokens,
		ledger:   ledger,
		guard:    guard,
		payments: payments.NewService(paymentRepo, ledger, guard, log),
		accounts: accountSvc,
		idem:     idempotency.NewCache(idemStore, cfg.Idempotency.TTL, log),
		ping:     ping,
	}

	if err := a.bootstrap(ctx, cfg.Bootstrap, log); err != nil {
		return nil, cleanup, err
	}
	return a, cleanup, nil
}

// bootstrap provisions the configured employee unless it already exists.
func (a *app) bootstrap(ctx context.Context, b config.BootstrapConfig, log *slog.Logger) error {
	if b.EmployeeUsername == "" {
		return nil
	}
	acc, err := a.accounts.Provision(ctx, b.EmployeeUsername, b.EmployeePassword, auth.PrincipalEmployee)
	if err != nil {
		if errors.Is(err, accounts.ErrDuplicate) {
			log.Info("bootstrap employee already exists", "username", b.EmployeeUsername)
			return nil
		}
		return fmt.Errorf("bootstrap employee: %w", err)
	}
	log.Info("bootstrap employee provisioned", "principal_id", acc.ID)
	return nil
}
