package main

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/lockguard"
)

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}
	cases := map[int]time.Duration{
		0:   time.Millisecond,
		50:  50 * time.Millisecond,
		99:  99 * time.Millisecond,
		100: 100 * time.Millisecond,
	}
	for p, want := range cases {
		if got := percentile(samples, p); got != want {
			t.Fatalf("percentile(%d) = %s, want %s", p, got, want)
		}
	}
	if percentile(nil, 50) != 0 {
		t.Fatal("empty samples")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	for _, typ := range []string{"memory", "redis", "sqlite"} {
		t.Run(typ, func(t *testing.T) {
			cfg := lockguard.DefaultConfig()
			cfg.DB.Type = typ
			t.Setenv("REDIS_ADDR", "")
			if typ == "sqlite" {
				cfg.DB.DSN = "file:" + t.TempDir() + "/load.db"
			}
			store, cleanup, err := openStore(ctx, cfg)
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			defer cleanup()

			rec, err := store.Create(ctx, lockguard.BuildAccountSecurity(&lockguard.UserRecord{
				Username:     "u",
				EmailAddress: "u",
				PasswordHash: "x",
			}))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if _, err := store.FindOne(ctx, lockguard.FieldUsername, "u"); err != nil {
				t.Fatalf("FindOne %s: %v", rec.ID, err)
			}
		})
	}

	cfg := lockguard.DefaultConfig()
	cfg.DB.Type = "cassandra"
	if _, _, err := openStore(ctx, cfg); err == nil {
		t.Fatal("unknown store type accepted")
	}
}
