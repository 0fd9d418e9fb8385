package housekeeping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beverage_dispenser/internal/logger"
)

type fakeStats struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeStats) CheckpointStats(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeStats) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePruner struct {
	mu        sync.Mutex
	calls     int
	retention time.Duration
	err       error
}

func (f *fakePruner) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.retention = retention
	return 2, f.err
}

func TestNew_RegistersJobs(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    int
		wantErr bool
	}{
		{name: "both jobs", cfg: Config{CheckpointSpec: "@every 1m", PruneSpec: "@daily", Retention: time.Hour}, want: 2},
		{name: "prune without retention", cfg: Config{CheckpointSpec: "*/5 * * * *", PruneSpec: "@daily"}, want: 1},
		{name: "nothing configured", cfg: Config{}, want: 0},
		{name: "bad checkpoint spec", cfg: Config{CheckpointSpec: "every minute"}, wantErr: true},
		{name: "bad prune spec", cfg: Config{PruneSpec: "61 * * * *", Retention: time.Hour}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(tc.cfg, &fakeStats{}, &fakePruner{}, logger.NewNop())
			if tc.wantErr {
				if err == nil {
					t.Fatalf("New() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if s.Jobs() != tc.want {
				t.Fatalf("Jobs() = %d, want %d", s.Jobs(), tc.want)
			}
		})
	}
}

func TestScheduler_JobsCallDependencies(t *testing.T) {
	stats := &fakeStats{err: errors.New("db locked")}
	pruner := &fakePruner{}
	s, err := New(Config{Retention: 48 * time.Hour}, stats, pruner, logger.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Checkpoint()
	s.Prune()

	if stats.Calls() != 1 {
		t.Fatalf("checkpoint calls = %d, want 1", stats.Calls())
	}
	if pruner.calls != 1 || pruner.retention != 48*time.Hour {
		t.Fatalf("prune calls=%d retention=%s", pruner.calls, pruner.retention)
	}
}

func TestScheduler_StartRunsCheckpoint(t *testing.T) {
	stats := &fakeStats{}
	s, err := New(Config{CheckpointSpec: "@every 1s"}, stats, &fakePruner{}, logger.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for stats.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if stats.Calls() == 0 {
		t.Fatalf("checkpoint job never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
