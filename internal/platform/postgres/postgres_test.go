package postgres

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.ListenURL != cfg.URL {
		t.Fatalf("listen url=%q, want %q", cfg.ListenURL, cfg.URL)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{URL: "postgres://x", ListenURL: "postgres://x", PingTimeout: time.Second, MaxOpenConns: 2, MaxIdleConns: 1}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing url", mutate: func(c *Config) { c.URL = "" }},
		{name: "zero ping", mutate: func(c *Config) { c.PingTimeout = 0 }},
		{name: "idle above open", mutate: func(c *Config) { c.MaxIdleConns = 3 }},
		{name: "negative lifetime", mutate: func(c *Config) { c.ConnMaxLifetime = -time.Second }},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("ping without deadline")
	}
	return f.err
}

func TestPing(t *testing.T) {
	if err := Ping(context.Background(), fakePinger{}, time.Second); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := Ping(context.Background(), fakePinger{err: errors.New("down")}, time.Second); err == nil {
		t.Fatalf("expected ping error")
	}
}
