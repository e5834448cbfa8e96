// Command chainverify walks the audit ledger in Postgres and prints a JSON
// integrity report. It exits 2 when the chain is broken so it can gate cron
// jobs and alerting.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"payments-portal/internal/audit"
	"payments-portal/internal/config"
	"payments-portal/pkg/logger"
	"payments-portal/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		return 1
	}
	log := logger.New(cfg.App.Env)
	if cfg.Store.Driver != config.StoreDriverPostgres {
		log.Error("chainverify requires STORE_DRIVER=postgres", "store", cfg.Store.Driver)
		return 1
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		return 1
	}
	defer db.Close()

	rep, err := audit.NewLedger(audit.NewPostgresRepo(db), log).VerifyChain(ctx)
	if err != nil {
		log.Error("chain verification failed", "err", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		log.Error("write report failed", "err", err)
		return 1
	}
	if !rep.OK() {
		return 2
	}
	return 0
}
