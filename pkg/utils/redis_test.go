package utils

import (
	"context"
	"testing"
	"time"
)

func TestSlotScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if reserveSlotScript == nil || releaseSlotScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestReserveSlotValidatesArgs(t *testing.T) {
	if _, _, err := ReserveSlot(context.Background(), nil, "k", "m", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseSlot(context.Background(), nil, "k", "m"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisDefaults(t *testing.T) {
	c := RedisConfig{MinIdleConns: -1}.withDefaults()
	if c.MinIdleConns != 0 || c.PoolSize != 20 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}
