package workers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func TestSweeperRunOnceContinuesAfterFailure(t *testing.T) {
	var ran atomic.Int32
	s := NewSweeper(time.Hour, quietLogger(),
		Task{Name: "ledger", Run: func(context.Context) (int, error) { return 0, errors.New("db down") }},
		Task{Name: "sessions", Run: func(context.Context) (int, error) { ran.Add(1); return 3, nil }},
	)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	removed := s.RunOnce(context.Background())

	if _, ok := removed["ledger"]; ok {
		t.Fatal("failed task must not report a count")
	}
	if removed["sessions"] != 3 || ran.Load() != 1 {
		t.Fatalf("expected sessions task to run, got %v", removed)
	}
}

func TestSweeperTrigger(t *testing.T) {
	done := make(chan struct{}, 1)
	s := NewSweeper(time.Hour, quietLogger(), Task{Name: "cache", Run: func(context.Context) (int, error) {
		select {
		case done <- struct{}{}:
		default:
		}
		return 1, nil
	}})

	if err := s.Trigger(); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected triggered pass to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := s.Trigger(); !errors.Is(err, errSweeperClosed) {
		t.Fatalf("expected closed error after shutdown, got %v", err)
	}
}

func TestSweeperTicks(t *testing.T) {
	var runs atomic.Int32
	s := NewSweeper(10*time.Millisecond, quietLogger(), Task{Name: "ledger", Run: func(context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	}})

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if runs.Load() < 2 {
		t.Fatalf("expected periodic runs, got %d", runs.Load())
	}
}
