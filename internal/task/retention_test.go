package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubPruner struct {
	before  int64
	removed int64
	err     error
}

func (p *stubPruner) Prune(_ context.Context, before int64) (int64, error) {
	p.before = before
	return p.removed, p.err
}

func TestRetentionRunOnceUsesMaxAge(t *testing.T) {
	pruner := &stubPruner{removed: 2}
	retention, err := NewRetention(pruner, "@hourly", 24*time.Hour)
	if err != nil {
		t.Fatalf("new retention: %v", err)
	}
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	retention.now = func() time.Time { return now }

	if removed := retention.RunOnce(context.Background()); removed != 2 {
		t.Fatalf("unexpected removed count %d", removed)
	}
	if want := now.Add(-24 * time.Hour).UnixMilli(); pruner.before != want {
		t.Fatalf("cutoff %d, want %d", pruner.before, want)
	}

	pruner.err = errors.New("connection reset")
	if removed := retention.RunOnce(context.Background()); removed != 0 {
		t.Fatalf("failed prune should report zero, got %d", removed)
	}
}

func TestNewRetentionValidates(t *testing.T) {
	if _, err := NewRetention(&stubPruner{}, "every tuesday", time.Hour); err == nil {
		t.Fatal("expected schedule error")
	}
	if _, err := NewRetention(&stubPruner{}, "@daily", 0); err == nil {
		t.Fatal("expected max age error")
	}
	if _, err := NewRetention(nil, "@daily", time.Hour); err == nil {
		t.Fatal("expected pruner error")
	}
}

func TestRetentionStopsWithContext(t *testing.T) {
	retention, err := NewRetention(&stubPruner{}, "@every 1h", time.Hour)
	if err != nil {
		t.Fatalf("new retention: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	retention.Start(ctx)
	cancel()
}
