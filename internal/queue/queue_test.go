package queue

import (
	"context"
	"testing"
	"time"

	"github.com/lorekeep/lorekeep/internal/log"
)

func TestBackoffDelay(t *testing.T) {
	base := 3 * time.Second
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 3 * time.Second},
		{2, 6 * time.Second},
		{3, 12 * time.Second},
		{4, 24 * time.Second},
	}

	for _, tt := range tests {
		if got := BackoffDelay(base, tt.attempts); got != tt.want {
			t.Errorf("BackoffDelay(%v, %d) = %v, want %v", base, tt.attempts, got, tt.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.BackoffBase != 3*time.Second {
		t.Errorf("BackoffBase = %v, want 3s", cfg.BackoffBase)
	}
	if cfg.LeaseTimeout != 5*time.Minute {
		t.Errorf("LeaseTimeout = %v, want 5m", cfg.LeaseTimeout)
	}
}

func TestWorkerRunRequiresHandlers(t *testing.T) {
	w := NewWorker(New(nil, Config{}, log.NewNop()), time.Second, nil, log.NewNop())
	if err := w.Run(context.Background()); err == nil {
		t.Error("Run() with no handlers should error")
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	w := NewWorker(New(nil, Config{}, log.NewNop()), time.Hour, nil, log.NewNop())
	w.Register(QueueTraining, func(ctx context.Context, payload []byte) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
}
