/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

// Dispatcher executes a batch of WorkItems with a bounded worker pool.
// The pool is scoped to a single Dispatch call and released on completion.
type Dispatcher struct {
	logger *logging.Logger
}

// DispatchOptions configures one Dispatch call
type DispatchOptions struct {
	// MaxWorkers is the concurrency limit W; values < 1 are clamped to 1
	// and values above the global limit are clamped down.
	MaxWorkers int
	// Progress, if non-nil, is invoked once per completed item with
	// (completed, total, itemID). Calls are serialized.
	Progress ProgressFunc
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(logger *logging.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Dispatch processes all items with at most W concurrently active workers and
// returns one TaskResult per item, in completion order. An empty batch
// returns immediately with no results and no progress calls. A panic in the
// processing function is recovered into a Failed result for that item only.
func (d *Dispatcher) Dispatch(ctx context.Context, items []WorkItem, fn ProcessFunc, opts DispatchOptions) []TaskResult {
	total := len(items)
	if total == 0 {
		return nil
	}

	workers := opts.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > global.MaxWorkersLimit {
		workers = global.MaxWorkersLimit
	}

	d.logger.Infof("Dispatching %d item(s) with %d worker(s)", total, workers)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		results   = make([]TaskResult, 0, total)
		completed int
	)

	sem := make(chan struct{}, workers)

	// record appends a result and reports progress under one lock so the
	// completed count never goes backwards and no update is lost.
	record := func(res TaskResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, res)
		completed++
		if opts.Progress != nil {
			opts.Progress(completed, total, res.ItemID)
		}
	}

	for _, item := range items {
		// If the caller cancelled, remaining items terminate as Failed
		// rather than hanging the batch.
		select {
		case <-ctx.Done():
			record(TaskResult{
				State:  ResultFailed,
				ItemID: item.ItemID,
				Error:  fmt.Sprintf("cancelled before dispatch: %v", ctx.Err()),
			})
			continue
		default:
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(it WorkItem) {
			defer wg.Done()
			defer func() { <-sem }()

			res := d.runOne(ctx, it, fn)
			record(res)
		}(item)
	}

	wg.Wait()

	d.logger.Infof("Dispatch complete: %d of %d item(s) processed", completed, total)

	return results
}

// runOne invokes fn for one item, converting a panic into a Failed result
func (d *Dispatcher) runOne(ctx context.Context, item WorkItem, fn ProcessFunc) (res TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Worker panic for item %s: %v", item.ItemID, r)
			res = TaskResult{
				State:  ResultFailed,
				ItemID: item.ItemID,
				Error:  fmt.Sprintf("worker panic: %v", r),
			}
		}
	}()

	res = fn(ctx, item)
	if res.ItemID == "" {
		res.ItemID = item.ItemID
	}
	return res
}
