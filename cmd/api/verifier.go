package main

import (
	"context"
	"log/slog"
	"time"

	"payments-portal/internal/audit"

	"github.com/robfig/cron/v3"
)

const chainVerifyTimeout = 10 * time.Minute

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}

// startChainVerifier schedules VerifyChain. An empty schedule returns an
// idle scheduler so callers can always Stop it.
func startChainVerifier(schedule string, ledger *audit.Ledger, log *slog.Logger) (*cron.Cron, error) {
	cl := cronLogger{l: log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if schedule == "" {
		log.Info("scheduled chain verification disabled")
		return c, nil
	}

	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), chainVerifyTimeout)
		defer cancel()
		// Breaks are logged and exported by VerifyChain itself.
		if _, err := ledger.VerifyChain(ctx); err != nil {
			log.Error("scheduled chain verification failed", "err", err)
		}
	}); err != nil {
		return nil, err
	}
	c.Start()
	log.Info("scheduled chain verification", "schedule", schedule)
	return c, nil
}
