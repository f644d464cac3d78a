package config

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchAppliesValidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigilsec.yaml")

	cfg := Defaults()
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan *Config, 4)
	done := make(chan struct{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() {
		defer close(done)
		if err := Watch(ctx, path, logger, func(c *Config) { applied <- c }); err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()

	// Give the watcher a moment to register before rewriting.
	time.Sleep(100 * time.Millisecond)

	cfg.Monitoring.Sensitivity = 0.5
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-applied:
		if got.Monitoring.Sensitivity != 0.5 {
			t.Errorf("applied sensitivity = %v, want 0.5", got.Monitoring.Sensitivity)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload not applied")
	}

	// An invalid rewrite keeps the previous config: nothing applied.
	cfg.Monitoring.Sensitivity = 99
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-applied:
		t.Errorf("invalid config applied: %+v", got.Monitoring)
	case <-time.After(time.Second):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop on context cancel")
	}
}
