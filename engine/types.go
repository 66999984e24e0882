/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package engine implements the concurrent per-item LLM execution pipeline:
// a bounded worker pool, response validation with JSON recovery, and
// submission-order result aggregation.
package engine

import (
	"context"

	"github.com/ClearClose/Vouch/global"
)

// WorkItem is one unit of dispatchable work (one invoice, or one evidence
// item's document bundle). Immutable once dispatched.
type WorkItem struct {
	ItemID  string `json:"item_id"`
	Payload string `json:"payload"`
	Context string `json:"context,omitempty"`
}

// ResultState discriminates the terminal state of a processed WorkItem
type ResultState int

//goland:noinspection GoUnusedConst
const (
	// ResultSuccess - validated structured payload
	ResultSuccess ResultState = iota
	// ResultValidationFailed - degraded/partial payload, raw text retained
	ResultValidationFailed
	// ResultFailed - no payload (LLM call failed or worker panicked)
	ResultFailed
)

// String returns the state name for logs and reports
func (s ResultState) String() string {
	switch s {
	case ResultSuccess:
		return "success"
	case ResultValidationFailed:
		return "validation_failed"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TaskResult is the outcome of processing one WorkItem. Always carries the
// item id for correlation; immutable once produced.
type TaskResult struct {
	State   ResultState              `json:"state"`
	ItemID  string                   `json:"item_id"`
	Records []map[string]interface{} `json:"records,omitempty"`
	Raw     string                   `json:"raw,omitempty"`
	Tokens  int                      `json:"tokens"`
	Error   string                   `json:"error,omitempty"`
}

// ItemError pairs an item id with a human-readable failure message
type ItemError struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// AggregateResult is the single merged outcome of one batch run
type AggregateResult struct {
	Records         []map[string]interface{} `json:"records"`       // submission order
	ProcessedCount  int                      `json:"processed_count"`
	SuccessCount    int                      `json:"success_count"`
	TotalTokens     int                      `json:"total_tokens"`
	TotalAmount     float64                  `json:"total_amount"`
	MatchedCount    int                      `json:"matched_count"`
	MismatchedCount int                      `json:"mismatched_count"`
	Errors          []ItemError              `json:"errors,omitempty"`
	RawResponses    map[string]string        `json:"raw_responses,omitempty"`
}

// ProcessFunc processes one WorkItem and returns its terminal result
type ProcessFunc func(ctx context.Context, item WorkItem) TaskResult

// ProgressFunc receives (completed, total, itemID) once per item completion.
// Calls are serialized by the dispatcher; completed counts 1..total.
type ProgressFunc func(completed, total int, itemID string)

// WriteReceipt describes what a destination writer wrote
type WriteReceipt struct {
	WrittenRows int    `json:"written_rows"`
	Range       string `json:"range"` // A1-style range descriptor
}

// Writer is the destination a batch run's records are written to. It is
// passed into Execute per call and mutated only after aggregation completes.
type Writer interface {
	Ready() bool
	WriteRecords(sheet string, startRow int, schema *global.OutputSchema, records []map[string]interface{}) (*WriteReceipt, error)
}

// TaskSource resolves task configurations by id
type TaskSource interface {
	GetTask(id string) (*global.TaskConfig, error)
}
