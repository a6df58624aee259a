package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"redis backend without addr", func(c *Config) {
			c.Store.Backend = "redis"
			c.Store.RedisAddr = ""
		}, false},
		{"mongo backend", func(c *Config) {
			c.Store.Backend = "mongo"
		}, true},
		{"relay backend without url", func(c *Config) {
			c.Store.Backend = "relay"
		}, false},
		{"relay backend with url", func(c *Config) {
			c.Store.Backend = "relay"
			c.Store.RelayURL = "ws://relay.example.org:8788/ws"
		}, true},
		{"relay backend with http url", func(c *Config) {
			c.Store.Backend = "relay"
			c.Store.RelayURL = "http://relay.example.org:8788/ws"
		}, false},
		{"unknown backend", func(c *Config) {
			c.Store.Backend = "etcd"
		}, false},
		{"no stun servers", func(c *Config) {
			c.Media.STUNServers = nil
		}, false},
		{"bad stun scheme", func(c *Config) {
			c.Media.STUNServers = []string{"udp://1.2.3.4"}
		}, false},
		{"turn server accepted", func(c *Config) {
			c.Media.STUNServers = []string{"turn:turn.example.org:3478"}
		}, true},
		{"history without path", func(c *Config) {
			c.History.Path = " "
		}, false},
		{"relay host with bad bind", func(c *Config) {
			c.Relay.Host = true
			c.Relay.Bind = "not-an-ip"
		}, false},
		{"relay host with bad port", func(c *Config) {
			c.Relay.Host = true
			c.Relay.Port = 0
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantOK && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.wantOK && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitness.json")

	cfg := Default()
	cfg.Identity.UserID = "user-123"
	cfg.Store.Backend = "redis"
	cfg.Store.RedisAddr = "10.0.0.5:6379"

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Identity.UserID != "user-123" || got.Store.Backend != "redis" || got.Store.RedisAddr != "10.0.0.5:6379" {
		t.Fatalf("roundtrip lost fields: %+v", got)
	}
}

func TestLoadFillsMissingFieldsFromDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitness.json")
	if err := os.WriteFile(path, []byte(`{"identity":{"user_id":"u1"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Identity.UserID != "u1" {
		t.Fatalf("user id: %q", got.Identity.UserID)
	}
	if got.Store.Backend != "memory" || len(got.Media.STUNServers) == 0 {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitness.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"identity":{"user_id":"u2"}}`)...)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Identity.UserID != "u2" {
		t.Fatalf("user id: %q", got.Identity.UserID)
	}
}

func TestEnsure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitness.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected creation on first run")
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("unexpected default: %+v", cfg.Store)
	}

	_, created, err = Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second run must load, not create")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitness.json")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 4)
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- Watch(ctx, path, func(cfg Config) { reloaded <- cfg })
	}()

	// Give the watcher a moment to install before the write.
	time.Sleep(100 * time.Millisecond)

	cfg := Default()
	cfg.Identity.UserID = "reloaded-user"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-reloaded:
		if got.Identity.UserID != "reloaded-user" {
			t.Fatalf("reloaded config: %+v", got.Identity)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	// An invalid save is skipped, not delivered.
	if err := os.WriteFile(path, []byte(`{"store":{"backend":"bogus"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-reloaded:
		t.Fatalf("invalid config delivered: %+v", got.Store)
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-watchDone:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}
