// Package provider implements source adapters for the external
// productivity providers statly ingests from.
//
// Each adapter owns provider authentication and pagination and returns
// normalized entities; reconciliation never sees provider wire formats.
// Adapters are registered in a Registry and selected by source name, so
// there is exactly one sync implementation per source type instead of
// parallel per-provider sync paths.
package provider

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// RawTask is a normalized task entity as fetched from a provider.
// ParentID and ModifiedTime are optional: not every provider reports a
// hierarchy or modification times.
type RawTask struct {
	ID           string
	ParentID     string
	ProjectID    string
	Title        string
	ModifiedTime *time.Time
}

// SessionTask is one task worked on during a focus session, with the
// interval-specific duration the provider reports for it.
type SessionTask struct {
	TaskID      string
	Title       string
	ProjectID   string
	DurationSec int64
}

// RawSession is a normalized time-tracked focus session.
type RawSession struct {
	ID           string
	StartTime    time.Time
	EndTime      time.Time
	Timezone     string
	ModifiedTime *time.Time
	Tasks        []SessionTask
}

// Adapter fetches normalized entities for one provider. Implementations
// handle auth and pagination internally; a fetch returns the complete
// current snapshot for the user.
type Adapter interface {
	// Source returns the provider name this adapter serves, e.g.
	// "ticktick". Used as the sync ledger's syncType and the lock's
	// endpoint suffix.
	Source() string

	// FetchTasks returns every task the provider currently has for the
	// user.
	FetchTasks(ctx context.Context, userID string) ([]RawTask, error)
}

// SessionAdapter is implemented by adapters whose provider also tracks
// focus sessions.
type SessionAdapter interface {
	Adapter

	// FetchSessions returns the user's focus sessions that started at or
	// after since.
	FetchSessions(ctx context.Context, userID string, since time.Time) ([]RawSession, error)
}

// Registry holds the configured adapters keyed by source name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Registering two adapters for the same source
// is a configuration bug and returns an error.
func (r *Registry) Register(a Adapter) error {
	source := a.Source()
	if _, ok := r.adapters[source]; ok {
		return fmt.Errorf("adapter for source %q already registered", source)
	}
	r.adapters[source] = a
	return nil
}

// ForSource returns the adapter for a source name.
func (r *Registry) ForSource(source string) (Adapter, error) {
	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source %q", source)
	}
	return a, nil
}

// Sources returns the registered source names, sorted.
func (r *Registry) Sources() []string {
	sources := make([]string, 0, len(r.adapters))
	for source := range r.adapters {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources
}
