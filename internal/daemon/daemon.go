// Package daemon provides the scheduler that runs periodic sync runs
// for every configured (user, source) pair.
//
// The daemon:
//  1. Runs an initial sync pass for all pairs on startup
//  2. Repeats the pass on a fixed interval
//  3. Watches the config file and hot-reloads policy knobs on change
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	enginesync "github.com/curlos/statly-backend-sub000/internal/sync"
)

// Pair is one (user, source) combination to sync.
type Pair struct {
	UserID string
	Source string
}

// SyncRunner is the slice of the engine the daemon needs.
type SyncRunner interface {
	SyncUser(ctx context.Context, userID, source string) (*enginesync.Report, error)
	UpdatePolicy(enginesync.Policy)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval between sync passes.
	Interval time.Duration

	// Pairs to sync each pass, in order.
	Pairs []Pair

	// ConfigPath, when set, is watched for changes; ReloadPolicy is
	// called on each change and the result pushed into the engine.
	ConfigPath   string
	ReloadPolicy func() (enginesync.Policy, error)

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 15 * time.Minute,
		Logger:   log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules sync runs and reacts to config changes.
type Daemon struct {
	engine SyncRunner
	config *Config

	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a new Daemon instance. Use Start() to begin scheduling.
func New(engine SyncRunner, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine: engine,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start begins the daemon's operation: an immediate sync pass, then one
// per interval, plus the config watcher if configured.
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon: %d pairs, interval %s", len(d.config.Pairs), d.config.Interval)

	// Link the caller's context to the daemon's own, so a shutdown
	// signal interrupts an in-flight pass instead of waiting it out.
	stop := context.AfterFunc(ctx, d.cancel)
	defer stop()

	if d.config.ConfigPath != "" && d.config.ReloadPolicy != nil {
		if err := d.watchConfig(); err != nil {
			return err
		}
	}

	d.runPass(d.ctx)

	d.wg.Add(1)
	go d.tickLoop()

	<-d.ctx.Done()
	if ctx.Err() != nil {
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	}
	// Stop() was called directly; it owns the cleanup.
	return nil
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing config watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

func (d *Daemon) tickLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runPass(d.ctx)
		}
	}
}

// runPass syncs every configured pair once, sequentially. A contended
// pair (a previous run still holding its lock) is skipped, not failed:
// the lock is doing its job.
func (d *Daemon) runPass(ctx context.Context) {
	for _, pair := range d.config.Pairs {
		if ctx.Err() != nil {
			return
		}

		report, err := d.engine.SyncUser(ctx, pair.UserID, pair.Source)
		switch {
		case errors.Is(err, enginesync.ErrSyncInProgress):
			d.config.Logger.Printf("Skipping %s/%s: previous run still in progress", pair.UserID, pair.Source)
		case err != nil:
			d.config.Logger.Printf("Sync failed for %s/%s: %v", pair.UserID, pair.Source, err)
		default:
			d.config.Logger.Printf("Synced %s/%s in %s: %d entities updated",
				pair.UserID, pair.Source, report.Duration.Round(time.Millisecond), report.EntitiesUpdated())
		}
	}
}

// watchConfig starts the fsnotify watcher for policy hot-reload. The
// parent directory is watched rather than the file itself because many
// editors replace the file on save.
func (d *Daemon) watchConfig() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	d.watcher = watcher

	dir := filepath.Dir(d.config.ConfigPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	target := filepath.Clean(d.config.ConfigPath)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		for {
			select {
			case <-d.ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				policy, err := d.config.ReloadPolicy()
				if err != nil {
					d.config.Logger.Printf("Config reload failed, keeping current policy: %v", err)
					continue
				}
				d.engine.UpdatePolicy(policy)
				d.config.Logger.Println("Policy reloaded from config")

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.config.Logger.Printf("Config watcher error: %v", err)
			}
		}
	}()

	d.config.Logger.Printf("Watching config: %s", d.config.ConfigPath)
	return nil
}
