package sync

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/curlos/statly-backend-sub000/internal/store"
)

const (
	// StorePayloadCeiling is the store's hard per-request payload limit.
	StorePayloadCeiling = 16 << 20

	// DefaultMaxBatchBytes is the effective batch target: the ceiling
	// minus a safety margin that absorbs size-estimation error.
	DefaultMaxBatchBytes = 14 << 20
)

// EstimateJSONSize is the default size estimator: text-serialized length
// scaled by 3/2 as a conservative over-estimate of the true wire size.
func EstimateJSONSize(op any) int {
	data, err := json.Marshal(op)
	if err != nil {
		// Unserializable ops will fail downstream anyway; estimate high
		// so they end up isolated in their own batch.
		return StorePayloadCeiling
	}
	return len(data) * 3 / 2
}

// Batcher splits a list of upsert operations into batches whose
// estimated serialized size stays under MaxBatchBytes and applies them
// sequentially.
//
// Batches run one after another, never concurrently: this bounds peak
// memory and keeps the run within the store's concurrent-request quota.
// A single operation is never split across batches; an operation whose
// estimate alone exceeds the budget gets a batch to itself.
type Batcher[T any] struct {
	// MaxBatchBytes is the per-batch size budget. Zero or negative
	// selects DefaultMaxBatchBytes.
	MaxBatchBytes int

	// Estimate returns the estimated serialized size of one operation.
	// Nil selects EstimateJSONSize.
	Estimate func(op T) int

	// Apply executes one batch and returns its counts. Operations are
	// idempotent upserts on natural keys, so retrying a batch after a
	// partial failure is safe.
	Apply func(ctx context.Context, batch []T) (store.UpsertCounts, error)

	// Logger for batch failures. Nil means a default stderr logger.
	Logger *log.Logger
}

// Split partitions ops into size-bounded batches, preserving order.
func (b *Batcher[T]) Split(ops []T) [][]T {
	maxBytes := b.MaxBatchBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBatchBytes
	}
	estimate := b.Estimate
	if estimate == nil {
		estimate = func(op T) int { return EstimateJSONSize(op) }
	}

	var (
		batches [][]T
		current []T
		running int
	)
	for _, op := range ops {
		size := estimate(op)
		if len(current) > 0 && running+size > maxBytes {
			batches = append(batches, current)
			current = nil
			running = 0
		}
		current = append(current, op)
		running += size
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// Persist applies all operations in size-bounded sequential batches and
// returns the aggregated counts.
//
// A failed batch is logged, counted as failed for all of its operations,
// and the run continues with the next batch; partial success is normal.
// Persist returns an error only when the context is done.
func (b *Batcher[T]) Persist(ctx context.Context, ops []T) (store.UpsertCounts, error) {
	var counts store.UpsertCounts
	if len(ops) == 0 {
		return counts, nil
	}

	logger := b.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	batches := b.Split(ops)

	// Single batch: no aggregation overhead, apply directly.
	if len(batches) == 1 {
		counts, err := b.Apply(ctx, batches[0])
		if err != nil {
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}
			logger.Printf("Warning: batch of %d operations failed: %v", len(batches[0]), err)
			// A failed batch contributes nothing but its failures: any
			// counts returned alongside the error were rolled back.
			counts = store.UpsertCounts{Failed: len(batches[0])}
		}
		return counts, nil
	}

	for i, batch := range batches {
		if ctx.Err() != nil {
			return counts, ctx.Err()
		}

		batchCounts, err := b.Apply(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}
			logger.Printf("Warning: batch %d/%d (%d operations) failed: %v", i+1, len(batches), len(batch), err)
			batchCounts = store.UpsertCounts{Failed: len(batch)}
		}
		counts.Add(batchCounts)
	}

	return counts, nil
}
