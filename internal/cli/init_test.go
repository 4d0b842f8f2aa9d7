package cli

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"vfcash/internal/config"
)

func TestSetupLogger(t *testing.T) {
	logger := SetupLogger(&config.Config{LogLevel: "debug", LogFormat: "json"})
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level should be enabled")
	}

	logger = SetupLogger(nil)
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("default logger should not log debug")
	}
}

func TestRunCleanup(t *testing.T) {
	logger := SetupLogger(nil)
	var order []string
	boom := errors.New("boom")

	err := RunCleanup(logger, time.Second,
		func(context.Context) error { order = append(order, "a"); return nil },
		nil,
		func(context.Context) error { order = append(order, "b"); return boom },
	)
	if !errors.Is(err, boom) {
		t.Fatalf("RunCleanup() = %v, want boom", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("cleanups ran as %v", order)
	}
}
