package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	enginesync "github.com/curlos/statly-backend-sub000/internal/sync"
)

// fakeRunner records sync calls and policy updates.
type fakeRunner struct {
	mu      stdsync.Mutex
	calls   []Pair
	errs    map[Pair]error
	updates []enginesync.Policy
	onSync  func(Pair)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{errs: make(map[Pair]error)}
}

func (f *fakeRunner) SyncUser(_ context.Context, userID, source string) (*enginesync.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pair := Pair{UserID: userID, Source: source}
	f.calls = append(f.calls, pair)
	if f.onSync != nil {
		f.onSync(pair)
	}
	if err := f.errs[pair]; err != nil {
		return nil, err
	}
	return &enginesync.Report{UserID: userID, Source: source}, nil
}

func (f *fakeRunner) UpdatePolicy(p enginesync.Policy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, p)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestNew_NilEngine(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("New() should fail with nil engine")
	}
}

func TestNew_Defaults(t *testing.T) {
	d, err := New(newFakeRunner(), nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if d.config.Interval != 15*time.Minute {
		t.Errorf("Interval = %v, want 15m default", d.config.Interval)
	}
}

func TestStart_RunsInitialPass(t *testing.T) {
	runner := newFakeRunner()
	d, err := New(runner, &Config{
		Interval: time.Hour,
		Pairs: []Pair{
			{UserID: "u1", Source: "ticktick"},
			{UserID: "u1", Source: "todoist"},
			{UserID: "u2", Source: "ticktick"},
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, func() bool { return runner.callCount() == 3 })
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	want := []Pair{
		{UserID: "u1", Source: "ticktick"},
		{UserID: "u1", Source: "todoist"},
		{UserID: "u2", Source: "ticktick"},
	}
	for i, pair := range want {
		if runner.calls[i] != pair {
			t.Errorf("calls[%d] = %+v, want %+v", i, runner.calls[i], pair)
		}
	}
}

func TestStart_CancelInterruptsInitialPass(t *testing.T) {
	runner := newFakeRunner()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel the caller's context while the very first pass is still
	// underway; the remaining pairs must not be attempted.
	runner.onSync = func(Pair) { cancel() }

	d, err := New(runner, &Config{
		Interval: time.Hour,
		Pairs: []Pair{
			{UserID: "u1", Source: "ticktick"},
			{UserID: "u1", Source: "todoist"},
			{UserID: "u2", Source: "ticktick"},
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancellation during the initial pass")
	}

	if got := runner.callCount(); got != 1 {
		t.Errorf("got %d sync calls, want 1: the pass should stop at the shutdown signal", got)
	}
}

func TestStart_TicksRepeatPass(t *testing.T) {
	runner := newFakeRunner()
	d, err := New(runner, &Config{
		Interval: 20 * time.Millisecond,
		Pairs:    []Pair{{UserID: "u1", Source: "ticktick"}},
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, func() bool { return runner.callCount() >= 3 })
	cancel()
	<-done
}

func TestRunPass_ContinuesPastFailures(t *testing.T) {
	runner := newFakeRunner()
	runner.errs[Pair{UserID: "u1", Source: "ticktick"}] = &enginesync.ConflictError{UserID: "u1", Endpoint: "ticktick"}
	runner.errs[Pair{UserID: "u1", Source: "todoist"}] = errors.New("provider is down")

	d, err := New(runner, &Config{
		Interval: time.Hour,
		Pairs: []Pair{
			{UserID: "u1", Source: "ticktick"},
			{UserID: "u1", Source: "todoist"},
			{UserID: "u2", Source: "ticktick"},
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	d.runPass(context.Background())

	// One pair conflicted, one failed: the third still runs.
	if runner.callCount() != 3 {
		t.Errorf("call count = %d, want all 3 pairs attempted", runner.callCount())
	}
}

func TestConfigReload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "statly.yaml")
	if err := os.WriteFile(configPath, []byte("interval: 15m\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	runner := newFakeRunner()
	d, err := New(runner, &Config{
		Interval:   time.Hour,
		ConfigPath: configPath,
		ReloadPolicy: func() (enginesync.Policy, error) {
			p := enginesync.DefaultPolicy()
			p.TaskHealWindow = 48 * time.Hour
			return p, nil
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Give the watcher a moment to register, then touch the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(configPath, []byte("interval: 30m\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	waitFor(t, func() bool { return runner.updateCount() >= 1 })
	cancel()
	<-done

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.updates[0].TaskHealWindow != 48*time.Hour {
		t.Errorf("reloaded TaskHealWindow = %v, want 48h", runner.updates[0].TaskHealWindow)
	}
}

func TestConfigReload_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "statly.yaml")
	if err := os.WriteFile(configPath, []byte("interval: 15m\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	runner := newFakeRunner()
	d, err := New(runner, &Config{
		Interval:   time.Hour,
		ConfigPath: configPath,
		ReloadPolicy: func() (enginesync.Policy, error) {
			return enginesync.DefaultPolicy(), nil
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	cancel()
	<-done

	if runner.updateCount() != 0 {
		t.Errorf("update count = %d, want 0 for unrelated file changes", runner.updateCount())
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
