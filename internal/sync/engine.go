package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/curlos/statly-backend-sub000/internal/provider"
	"github.com/curlos/statly-backend-sub000/internal/schema"
	"github.com/curlos/statly-backend-sub000/internal/store"
)

// Policy holds the tunable knobs of the engine. All fields have working
// defaults; see DefaultPolicy.
type Policy struct {
	// TaskHealWindow and SessionHealWindow are the trailing resync
	// ranges per entity type.
	TaskHealWindow    time.Duration
	SessionHealWindow time.Duration

	// MaxBatchBytes is the per-batch size budget for persistence.
	MaxBatchBytes int

	// MaxChainDepth caps ancestor chain traversal.
	MaxChainDepth int

	// StaleLockThreshold is the age at which an in-progress lock is
	// presumed abandoned.
	StaleLockThreshold time.Duration
}

// DefaultPolicy returns the default knobs.
func DefaultPolicy() Policy {
	return Policy{
		TaskHealWindow:     DefaultTaskHealWindow,
		SessionHealWindow:  DefaultSessionHealWindow,
		MaxBatchBytes:      DefaultMaxBatchBytes,
		MaxChainDepth:      DefaultMaxChainDepth,
		StaleLockThreshold: DefaultStaleLockThreshold,
	}
}

// EventSink receives sync lifecycle events. Implementations must not
// block; the engine calls them inline.
type EventSink interface {
	RunStarted(userID, source, runID string)
	RunCompleted(userID, source, runID string, report *Report)
	RunFailed(userID, source, runID string, err error)
}

// Report summarizes one sync run.
type Report struct {
	RunID  string `json:"runId"`
	UserID string `json:"userId"`
	Source string `json:"source"`

	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	TasksFetched  int                `json:"tasksFetched"`
	TasksSelected int                `json:"tasksSelected"`
	Tasks         store.UpsertCounts `json:"tasks"`

	SessionsFetched int                `json:"sessionsFetched"`
	RecordsSelected int                `json:"recordsSelected"`
	Records         store.UpsertCounts `json:"records"`

	RecordsPatched int `json:"recordsPatched"`
	BrokenChains   int `json:"brokenChains"`
}

// EntitiesUpdated is the operation count committed to the sync ledger:
// everything the run actually created or modified.
func (r *Report) EntitiesUpdated() int {
	return r.Tasks.Created + r.Tasks.Modified + r.Records.Created + r.Records.Modified
}

// Config holds the collaborators of the engine.
type Config struct {
	Store     *store.Store
	Providers *provider.Registry

	// Policy knobs; zero values select defaults field by field.
	Policy Policy

	// Events receives lifecycle events; nil disables them.
	Events EventSink

	// Logger for engine activity; nil means a stderr default.
	Logger *log.Logger
}

// Engine runs incremental synchronization and reconciliation for
// (user, source) pairs. Construct once at process start and share; runs
// for distinct pairs may execute concurrently.
type Engine struct {
	store     *store.Store
	providers *provider.Registry
	events    EventSink
	logger    *log.Logger

	policyMu stdsync.RWMutex
	policy   Policy

	midnight *MidnightCalculator

	// now is swappable for tests.
	now func() time.Time
}

// New creates an Engine from the given config.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("providers cannot be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	policy := cfg.Policy
	defaults := DefaultPolicy()
	if policy.TaskHealWindow <= 0 {
		policy.TaskHealWindow = defaults.TaskHealWindow
	}
	if policy.SessionHealWindow <= 0 {
		policy.SessionHealWindow = defaults.SessionHealWindow
	}
	if policy.MaxBatchBytes <= 0 {
		policy.MaxBatchBytes = defaults.MaxBatchBytes
	}
	if policy.MaxChainDepth <= 0 {
		policy.MaxChainDepth = defaults.MaxChainDepth
	}
	if policy.StaleLockThreshold <= 0 {
		policy.StaleLockThreshold = defaults.StaleLockThreshold
	}

	return &Engine{
		store:     cfg.Store,
		providers: cfg.Providers,
		events:    cfg.Events,
		logger:    logger,
		policy:    policy,
		midnight:  NewMidnightCalculator(logger),
		now:       time.Now,
	}, nil
}

// Policy returns the current policy snapshot.
func (e *Engine) Policy() Policy {
	e.policyMu.RLock()
	defer e.policyMu.RUnlock()
	return e.policy
}

// UpdatePolicy swaps the policy knobs. In-flight runs keep the snapshot
// they started with; the next run picks up the new values.
func (e *Engine) UpdatePolicy(policy Policy) {
	e.policyMu.Lock()
	defer e.policyMu.Unlock()
	e.policy = policy
}

// SyncUser performs one full reconciliation run for (userID, source).
//
// Returns ErrSyncInProgress (via ConflictError) when another run holds
// the pair's lock, an AdapterError when the provider snapshot could not
// be obtained, and otherwise a Report even when some batches or
// propagations failed partially.
func (e *Engine) SyncUser(ctx context.Context, userID, source string) (*Report, error) {
	policy := e.Policy()
	runID := uuid.NewString()

	report := &Report{
		RunID:  runID,
		UserID: userID,
		Source: source,
	}

	locker := NewLocker(e.store, policy.StaleLockThreshold, e.logger)
	locker.now = e.now

	e.emitStarted(userID, source, runID)

	err := locker.WithLock(ctx, userID, source, func(ctx context.Context) error {
		return e.runLocked(ctx, policy, report)
	})
	if err != nil {
		e.emitFailed(userID, source, runID, err)
		return nil, err
	}

	e.emitCompleted(userID, source, runID, report)
	return report, nil
}

// runLocked is the body of one run; the pair's lock is held throughout.
func (e *Engine) runLocked(ctx context.Context, policy Policy, report *Report) error {
	userID, source := report.UserID, report.Source

	adapter, err := e.providers.ForSource(source)
	if err != nil {
		return err
	}

	started := e.now()
	report.StartedAt = started
	defer func() {
		report.Duration = e.now().Sub(started)
	}()

	// Fetch the provider snapshot. Failure here aborts before any
	// writes and leaves the ledger alone so the next run retries the
	// same window.
	rawTasks, err := adapter.FetchTasks(ctx, userID)
	if err != nil {
		return &AdapterError{Source: source, Err: err}
	}
	report.TasksFetched = len(rawTasks)

	ledger := NewLedger(e.store)
	entry, err := ledger.Get(ctx, userID, source)
	if err != nil {
		return err
	}

	byID := make(map[string]provider.RawTask, len(rawTasks))
	for _, rt := range rawTasks {
		byID[rt.ID] = rt
	}

	resolver := NewChainResolver(func(id string) (string, bool) {
		rt, ok := byID[id]
		return rt.ParentID, ok
	}, policy.MaxChainDepth, e.logger)

	changed, err := e.syncTasks(ctx, policy, report, entry, started, rawTasks, resolver)
	if err != nil {
		return err
	}

	patched, err := NewPropagator(e.store, e.logger).Propagate(ctx, userID, changed)
	if err != nil {
		// Propagation failure does not roll back the primary upserts;
		// the heal window repairs missed propagation on a later run.
		e.logger.Printf("Warning: propagation failed for %s/%s: %v", userID, source, err)
	}
	report.RecordsPatched = patched

	if sessions, ok := adapter.(provider.SessionAdapter); ok {
		if err := e.syncSessions(ctx, policy, report, entry, started, sessions, byID, resolver); err != nil {
			return err
		}
	}

	report.BrokenChains = resolver.BrokenChains()

	// The ledger advances to the run's start time, not its end: an
	// entity modified while the run was in flight must still fall into
	// the next run's window.
	if err := ledger.Commit(ctx, userID, source, started, report.EntitiesUpdated()); err != nil {
		return err
	}

	e.logger.Printf("Synced %s/%s: %d tasks fetched, %d selected, %d created, %d modified, %d records patched",
		userID, source, report.TasksFetched, report.TasksSelected,
		report.Tasks.Created, report.Tasks.Modified, report.RecordsPatched)

	return nil
}

// syncTasks selects, resolves and persists tasks, returning the changed
// map for the propagator.
func (e *Engine) syncTasks(ctx context.Context, policy Policy, report *Report, entry *schema.SyncLedgerEntry, now time.Time, rawTasks []provider.RawTask, resolver *ChainResolver) (map[string]ChangedTask, error) {
	userID := report.UserID

	candidates := make([]Candidate, len(rawTasks))
	for i, rt := range rawTasks {
		candidates[i] = Candidate{ID: rt.ID, ModifiedTime: rt.ModifiedTime}
	}

	selector := &Selector{HealWindow: policy.TaskHealWindow}
	selected, err := selector.Select(ctx, entry, candidates, now, func(ctx context.Context, ids []string) (map[string]bool, error) {
		return e.store.ExistingTaskIDs(ctx, userID, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("task selection failed: %w", err)
	}
	report.TasksSelected = len(selected)

	tasks := make([]*schema.Task, 0, len(selected))
	changed := make(map[string]ChangedTask, len(selected))
	for _, rt := range rawTasks {
		if !selected[rt.ID] {
			continue
		}

		chain := resolver.Resolve(rt.ID, rt.ParentID)
		tasks = append(tasks, &schema.Task{
			ID:           rt.ID,
			UserID:       userID,
			Source:       report.Source,
			Title:        rt.Title,
			ProjectID:    rt.ProjectID,
			ParentID:     rt.ParentID,
			AncestorIDs:  chain,
			ModifiedTime: rt.ModifiedTime,
			SyncedAt:     now,
		})
		changed[rt.ID] = ChangedTask{
			Title:       rt.Title,
			ProjectID:   rt.ProjectID,
			AncestorIDs: chain,
		}
	}

	batcher := &Batcher[*schema.Task]{
		MaxBatchBytes: policy.MaxBatchBytes,
		Apply: func(ctx context.Context, batch []*schema.Task) (store.UpsertCounts, error) {
			return e.store.UpsertTasks(ctx, batch)
		},
		Logger: e.logger,
	}

	counts, err := batcher.Persist(ctx, tasks)
	if err != nil {
		return nil, err
	}
	report.Tasks = counts

	return changed, nil
}

// syncSessions fetches, selects and persists focus sessions as focus
// records with embedded task snapshots.
func (e *Engine) syncSessions(ctx context.Context, policy Policy, report *Report, entry *schema.SyncLedgerEntry, now time.Time, adapter provider.SessionAdapter, byID map[string]provider.RawTask, resolver *ChainResolver) error {
	userID := report.UserID

	// Fetch back to the heal window's start so late-delivered sessions
	// are still picked up. First-ever runs fetch from the epoch.
	since := entry.LastSyncTime
	if !since.IsZero() {
		since = since.Add(-policy.SessionHealWindow)
	}

	sessions, err := adapter.FetchSessions(ctx, userID, since)
	if err != nil {
		return &AdapterError{Source: report.Source, Err: err}
	}
	report.SessionsFetched = len(sessions)

	candidates := make([]Candidate, len(sessions))
	for i, s := range sessions {
		candidates[i] = Candidate{ID: s.ID, ModifiedTime: s.ModifiedTime}
	}

	selector := &Selector{HealWindow: policy.SessionHealWindow}
	selected, err := selector.Select(ctx, entry, candidates, now, func(ctx context.Context, ids []string) (map[string]bool, error) {
		return e.store.ExistingFocusRecordIDs(ctx, userID, ids)
	})
	if err != nil {
		return fmt.Errorf("session selection failed: %w", err)
	}
	report.RecordsSelected = len(selected)

	records := make([]*schema.FocusRecord, 0, len(selected))
	for _, s := range sessions {
		if !selected[s.ID] {
			continue
		}

		record := &schema.FocusRecord{
			ID:              s.ID,
			UserID:          userID,
			Source:          report.Source,
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			CrossesMidnight: e.midnight.Crosses(s.StartTime, s.EndTime, s.Timezone),
			SyncedAt:        now,
		}
		for _, st := range s.Tasks {
			// The referenced task may be absent from the snapshot (for
			// example deleted upstream); its chain degrades to itself.
			parentID := ""
			if rt, ok := byID[st.TaskID]; ok {
				parentID = rt.ParentID
			}
			record.Tasks = append(record.Tasks, schema.TaskSnapshot{
				TaskID:      st.TaskID,
				Title:       st.Title,
				ProjectID:   st.ProjectID,
				AncestorIDs: resolver.Resolve(st.TaskID, parentID),
				DurationSec: st.DurationSec,
			})
		}
		records = append(records, record)
	}

	batcher := &Batcher[*schema.FocusRecord]{
		MaxBatchBytes: policy.MaxBatchBytes,
		Apply: func(ctx context.Context, batch []*schema.FocusRecord) (store.UpsertCounts, error) {
			return e.store.UpsertFocusRecords(ctx, batch)
		},
		Logger: e.logger,
	}

	counts, err := batcher.Persist(ctx, records)
	if err != nil {
		return err
	}
	report.Records = counts

	return nil
}

func (e *Engine) emitStarted(userID, source, runID string) {
	if e.events != nil {
		e.events.RunStarted(userID, source, runID)
	}
}

func (e *Engine) emitCompleted(userID, source, runID string, report *Report) {
	if e.events != nil {
		e.events.RunCompleted(userID, source, runID, report)
	}
}

func (e *Engine) emitFailed(userID, source, runID string, err error) {
	if e.events != nil {
		e.events.RunFailed(userID, source, runID, err)
	}
}
