package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClose_ReverseOrderAndFirstError(t *testing.T) {
	d := &Deps{}
	var order []int
	errFirst := errors.New("redis close")

	d.onClose(func(context.Context) error { order = append(order, 1); return nil })
	d.onClose(func(context.Context) error { order = append(order, 2); return errors.New("later") })
	d.onClose(func(context.Context) error { order = append(order, 3); return errFirst })

	err := d.Close(context.Background())

	if !errors.Is(err, errFirst) {
		t.Errorf("Close() = %v, want %v", err, errFirst)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("close order = %v, want [3 2 1]", order)
	}

	// A second Close is a no-op.
	order = nil
	if err := d.Close(context.Background()); err != nil || len(order) != 0 {
		t.Errorf("second Close ran closers: err=%v order=%v", err, order)
	}
}

func TestHealthProbes_DatabaseOnlyWithoutRedis(t *testing.T) {
	d := &Deps{}

	probes := d.HealthProbes()

	if len(probes) != 1 || probes[0].Name() != "database" {
		t.Errorf("probes = %v, want only database", probes)
	}
}

func TestWireBilling_WithoutOptionalComponents(t *testing.T) {
	d := &Deps{Logger: slog.Default()}

	d.wireBilling()

	if d.Processor == nil || d.Reconciler == nil || d.Resolver == nil || d.Fetcher == nil {
		t.Fatal("billing components not wired")
	}
}
