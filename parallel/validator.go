// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package parallel implements the batch vertex validator of spec §4.3:
// signature and structural checks for a batch of vertices are
// distributed across a worker pool, work-stealing from a shared atomic
// cursor rather than pre-partitioned into fixed chunks, so that a
// worker that finishes its share early helps with the remainder.
package parallel

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aegisbft/consensus/crypto"
	"github.com/aegisbft/consensus/dag"
)

// Item is one vertex queued for validation, paired with the data its
// signature was computed over and the signer's public key.
type Item struct {
	Vertex    *dag.Vertex
	SignedMsg []byte
	PublicKey crypto.PublicKey
}

// Result is the validation outcome for one Item, at the same index as
// its input in the batch passed to Validate.
type Result struct {
	Valid bool
	Err   error
}

// Config tunes the validator (spec §4.3: adaptive batching threshold,
// worker count, work-stealing toggle).
type Config struct {
	WorkerThreads int
	WorkStealing  bool
	AdaptiveFloor int // batch sizes at or below this run inline, no workers spun up
}

// DefaultConfig mirrors spec §4.3's stated defaults: adaptive floor of
// 256 items, one worker per CPU.
func DefaultConfig(cpuWorkers int) Config {
	if cpuWorkers < 1 {
		cpuWorkers = 1
	}
	return Config{
		WorkerThreads: cpuWorkers,
		WorkStealing:  true,
		AdaptiveFloor: 256,
	}
}

// Validator runs batches of Items concurrently across a worker pool.
type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	if cfg.WorkerThreads < 1 {
		cfg.WorkerThreads = 1
	}
	return &Validator{cfg: cfg}
}

// Validate checks every item in batch and returns one Result per item,
// index-aligned with the input. Below the adaptive floor, validation
// runs inline on the calling goroutine to avoid worker-pool overhead
// for small batches (spec §4.3 "adaptive batching threshold").
func (v *Validator) Validate(ctx context.Context, batch []Item) ([]Result, error) {
	results := make([]Result, len(batch))
	if len(batch) == 0 {
		return results, nil
	}
	if len(batch) <= v.cfg.AdaptiveFloor {
		for i, item := range batch {
			results[i] = validateOne(item)
		}
		return results, nil
	}

	workers := v.cfg.WorkerThreads
	if workers > len(batch) {
		workers = len(batch)
	}

	if !v.cfg.WorkStealing {
		return v.validateChunked(ctx, batch, results, workers)
	}
	return v.validateWorkStealing(ctx, batch, results, workers)
}

// validateWorkStealing has every worker pull the next unclaimed index
// from a shared atomic cursor until the batch is exhausted, so idle
// workers absorb whatever slower workers haven't reached yet.
func (v *Validator) validateWorkStealing(ctx context.Context, batch []Item, results []Result, workers int) ([]Result, error) {
	var cursor atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				i := int(cursor.Add(1)) - 1
				if i >= len(batch) {
					return nil
				}
				results[i] = validateOne(batch[i])
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// validateChunked pre-partitions the batch into contiguous worker
// shares, no stealing once a worker's share is assigned.
func (v *Validator) validateChunked(ctx context.Context, batch []Item, results []Result, workers int) ([]Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	chunkSize := (len(batch) + workers - 1) / workers

	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > len(batch) {
			end = len(batch)
		}
		if start >= len(batch) {
			break
		}
		start, end := start, end
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = validateOne(batch[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func validateOne(item Item) Result {
	if item.Vertex == nil {
		return Result{Valid: false, Err: errInvalidVertex}
	}
	recomputed := item.Vertex.Recompute()
	if recomputed != item.Vertex.ID() {
		return Result{Valid: false, Err: errHashMismatch}
	}
	if !crypto.Verify(item.PublicKey, item.SignedMsg, item.Vertex.Signature()) {
		return Result{Valid: false, Err: errBadSignature}
	}
	return Result{Valid: true}
}
