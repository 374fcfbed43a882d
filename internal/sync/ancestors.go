package sync

import (
	"log"
	"os"
)

// DefaultMaxChainDepth caps upward traversal during ancestor resolution.
// Real task trees are nowhere near this deep; the cap exists so that a
// cycle or malformed parent data degrades to a truncated chain instead
// of an unbounded loop.
const DefaultMaxChainDepth = 1000

// ParentLookup resolves a task id to its parent id. ok is false when the
// id is not present in the fetched snapshot at all (a dangling parent
// reference).
type ParentLookup func(id string) (parentID string, ok bool)

// ChainResolver builds ordered ancestor chains (self first, root last)
// over a task forest, memoizing by parent id.
//
// The cache maps a parent id to that parent's own full chain. Resolving
// a task whose parent is cached costs one slice prepend; resolving a
// task whose parent is not cached walks upward once and caches the chain
// of every node it visited, so all siblings sharing any of those
// ancestors resolve in O(1) afterwards.
//
// Not safe for concurrent use. Each sync run owns its own resolver.
type ChainResolver struct {
	lookup   ParentLookup
	maxDepth int
	cache    map[string][]string
	logger   *log.Logger

	// broken counts chains truncated by a cycle, depth cap, or dangling
	// parent reference during this resolver's lifetime.
	broken int
}

// NewChainResolver creates a resolver over the given lookup. maxDepth <= 0
// selects DefaultMaxChainDepth. If logger is nil, a default logger
// writing to stderr is used.
func NewChainResolver(lookup ParentLookup, maxDepth int, logger *log.Logger) *ChainResolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxChainDepth
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &ChainResolver{
		lookup:   lookup,
		maxDepth: maxDepth,
		cache:    make(map[string][]string),
		logger:   logger,
	}
}

// Resolve returns the ordered ancestor chain for a task: the task's own
// id first, then its parent, up to the root. A task with no parent has
// the chain [taskID].
//
// Broken chains (cycles, depth-cap hits, dangling parents) are logged
// and truncated at the point of damage; Resolve never loops and never
// returns an empty chain.
func (r *ChainResolver) Resolve(taskID, parentID string) []string {
	if parentID == "" {
		return []string{taskID}
	}

	if chain, ok := r.cache[parentID]; ok {
		return prepend(taskID, chain)
	}

	// Cache miss: walk upward from the parent, collecting ids until we
	// hit a root, a cached ancestor, or damage.
	var (
		walk   []string
		base   []string
		broken bool
	)
	seen := map[string]bool{taskID: true}
	cur := parentID

	for {
		if seen[cur] {
			r.logger.Printf("Warning: ancestor cycle at %s; truncating chain for task %s", cur, taskID)
			broken = true
			break
		}
		if len(walk) >= r.maxDepth {
			r.logger.Printf("Warning: ancestor chain for task %s exceeds depth %d; truncating", taskID, r.maxDepth)
			broken = true
			break
		}
		seen[cur] = true
		walk = append(walk, cur)

		next, ok := r.lookup(cur)
		if !ok {
			r.logger.Printf("Warning: dangling parent reference %s; truncating chain for task %s", cur, taskID)
			broken = true
			break
		}
		if next == "" {
			break
		}
		if chain, cached := r.cache[next]; cached {
			base = chain
			break
		}
		cur = next
	}

	full := make([]string, 0, len(walk)+len(base))
	full = append(full, walk...)
	full = append(full, base...)

	if broken {
		// Truncated chains are not cached: if a later run repairs the
		// parent data, resolution must see the fix.
		r.broken++
		return prepend(taskID, full)
	}

	// Cache the chain of every walked node, parent included, so the
	// next resolution touching any of them stops there.
	for i, id := range walk {
		if _, ok := r.cache[id]; !ok {
			r.cache[id] = full[i:]
		}
	}

	return prepend(taskID, full)
}

// BrokenChains returns how many chains were truncated so far.
func (r *ChainResolver) BrokenChains() int {
	return r.broken
}

func prepend(id string, chain []string) []string {
	out := make([]string, 0, len(chain)+1)
	out = append(out, id)
	return append(out, chain...)
}
