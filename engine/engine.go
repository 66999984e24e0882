/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

// Completer performs one LLM completion. The engine is provider-agnostic;
// llm.Service satisfies this.
type Completer interface {
	Complete(ctx context.Context, llmID string, prompt string) (text string, tokens int, err error)
}

// Settings bounds one engine instance's execution behavior
type Settings struct {
	MaxWorkers        int // default concurrency when a request does not set one
	TruncateChars     int // payload prefix length embedded in prompts
	RateLimitRequests int
	RateLimitPeriod   int // seconds
}

// ExecuteRequest describes one batch run
type ExecuteRequest struct {
	TaskID      string
	Items       []WorkItem
	Schema      *global.OutputSchema // optional override of the task's schema
	Instruction string               // caller's supplementary instruction
	LLMID       string
	MaxWorkers  int
	Progress    ProgressFunc
	Writer      Writer
}

// ExecutionResult is the unified outcome of one Execute call. The aggregate
// remains populated even when the final write fails, so callers can retry
// the write without re-running the batch.
type ExecutionResult struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	TaskName   string           `json:"task_name,omitempty"`
	Aggregate  *AggregateResult `json:"aggregate,omitempty"`
	Receipt    *WriteReceipt    `json:"receipt,omitempty"`
	ElapsedSec float64          `json:"elapsed_seconds"`
}

// Engine is the top-level batch orchestrator: it validates preconditions,
// builds per-item prompts, dispatches LLM calls under the worker pool,
// validates and aggregates responses, and writes the records.
type Engine struct {
	logger     *logging.Logger
	tasks      TaskSource
	completer  Completer
	dispatcher *Dispatcher
	validator  *Validator
	aggregator *Aggregator
	limiter    *RateLimiter
	settings   Settings
}

// New creates an Engine
func New(logger *logging.Logger, tasks TaskSource, completer Completer, settings Settings) *Engine {
	if settings.MaxWorkers < 1 {
		settings.MaxWorkers = global.DefaultMaxWorkers
	}
	if settings.TruncateChars < 1 {
		settings.TruncateChars = global.DefaultTruncateChars
	}
	if settings.RateLimitRequests < 1 {
		settings.RateLimitRequests = global.DefaultRateLimitRequests
	}
	if settings.RateLimitPeriod < 1 {
		settings.RateLimitPeriod = global.DefaultRateLimitPeriod
	}

	return &Engine{
		logger:     logger,
		tasks:      tasks,
		completer:  completer,
		dispatcher: NewDispatcher(logger),
		validator:  NewValidator(logger),
		aggregator: NewAggregator(logger),
		limiter:    NewRateLimiter(settings.RateLimitRequests, settings.RateLimitPeriod),
		settings:   settings,
	}
}

// Validator exposes the engine's response validator for variant pipelines
// (invoice checking, rule suggestion) that share its recovery semantics.
func (e *Engine) Validator() *Validator {
	return e.validator
}

// Limiter exposes the shared rate limiter for variant pipelines
func (e *Engine) Limiter() *RateLimiter {
	return e.limiter
}

// Dispatcher exposes the worker pool for variant pipelines
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// Execute runs one batch. Precondition failures return an error result with
// no side effects. Individual item failures are absorbed into the aggregate;
// only precondition and write failures make Success false.
func (e *Engine) Execute(ctx context.Context, req *ExecuteRequest) *ExecutionResult {
	start := time.Now()

	// Preconditions - fail fast, no partial work
	task, err := e.tasks.GetTask(req.TaskID)
	if err != nil {
		return failResult(start, fmt.Sprintf("task configuration not found: %v", err))
	}

	if len(req.Items) == 0 {
		// Nothing to do is not an error: no LLM calls, no progress
		return &ExecutionResult{
			Success:    true,
			Message:    "nothing to do: no work items",
			TaskName:   task.Name,
			Aggregate:  &AggregateResult{RawResponses: map[string]string{}},
			ElapsedSec: time.Since(start).Seconds(),
		}
	}

	schema := req.Schema
	if schema == nil {
		schema = &task.OutputSchema
	}
	if err := schema.Validate(); err != nil {
		return failResult(start, fmt.Sprintf("invalid output schema: %v", err))
	}

	if req.Writer == nil || !req.Writer.Ready() {
		return failResult(start, "destination writer is not ready")
	}

	workers := req.MaxWorkers
	if workers < 1 {
		workers = e.settings.MaxWorkers
	}

	e.logger.Infof("Executing task %s (%s): %d item(s), %d worker(s)", task.ID, task.Name, len(req.Items), workers)

	// Dispatch: prompt -> LLM -> validate, one worker per in-flight item
	results := e.dispatcher.Dispatch(ctx, req.Items, func(ctx context.Context, item WorkItem) TaskResult {
		return e.processItem(ctx, task, schema, req, item)
	}, DispatchOptions{
		MaxWorkers: workers,
		Progress:   req.Progress,
	})

	// Aggregate in submission order
	agg := e.aggregator.Aggregate(req.Items, results)

	// Write after all dispatch and aggregation completes
	receipt, err := req.Writer.WriteRecords(schema.TargetSheet, schema.StartRow, schema, agg.Records)
	if err != nil {
		e.logger.Errorf("Write failed after successful dispatch: %v", err)
		return &ExecutionResult{
			Success:    false,
			Message:    fmt.Sprintf("write failed: %v (computed records remain available)", err),
			TaskName:   task.Name,
			Aggregate:  agg,
			ElapsedSec: time.Since(start).Seconds(),
		}
	}

	msg := fmt.Sprintf("processed %d item(s): %d succeeded, %d error(s), %d row(s) written to %s",
		agg.ProcessedCount, agg.SuccessCount, len(agg.Errors), receipt.WrittenRows, receipt.Range)

	return &ExecutionResult{
		Success:    true,
		Message:    msg,
		TaskName:   task.Name,
		Aggregate:  agg,
		Receipt:    receipt,
		ElapsedSec: time.Since(start).Seconds(),
	}
}

// processItem is the per-worker pipeline: build prompt, call the LLM under
// the rate limiter, validate the response.
func (e *Engine) processItem(ctx context.Context, task *global.TaskConfig, schema *global.OutputSchema, req *ExecuteRequest, item WorkItem) TaskResult {
	prompt := e.buildPrompt(task, schema, req.Instruction, item)

	e.limiter.Wait()

	text, tokens, err := e.completer.Complete(ctx, req.LLMID, prompt)
	if err != nil {
		return TaskResult{
			State:  ResultFailed,
			ItemID: item.ItemID,
			Error:  err.Error(),
		}
	}

	resp := e.validator.ValidateTaskResponse(text, item.ItemID)
	if resp.Validity == Degraded {
		return TaskResult{
			State:  ResultValidationFailed,
			ItemID: item.ItemID,
			Records: []map[string]interface{}{{
				"item_id": item.ItemID,
				"status":  global.RecordStatusError,
				"note":    resp.Note,
			}},
			Raw:    text,
			Tokens: tokens,
			Error:  resp.Note,
		}
	}

	return TaskResult{
		State:   ResultSuccess,
		ItemID:  item.ItemID,
		Records: resp.Records,
		Raw:     text,
		Tokens:  tokens,
	}
}

// buildPrompt combines the task template, the caller's instruction, the item
// payload (truncated to a bounded prefix), and a machine-readable schema
// description with a JSON example.
func (e *Engine) buildPrompt(task *global.TaskConfig, schema *global.OutputSchema, instruction string, item WorkItem) string {
	var b strings.Builder

	if task.PromptTemplate != "" {
		b.WriteString(task.PromptTemplate)
		b.WriteString("\n\n")
	}
	if instruction != "" {
		b.WriteString("Additional instructions:\n")
		b.WriteString(instruction)
		b.WriteString("\n\n")
	}
	if item.Context != "" {
		b.WriteString("Item context:\n")
		b.WriteString(item.Context)
		b.WriteString("\n\n")
	}

	b.WriteString(fmt.Sprintf("Item ID: %s\n\n", item.ItemID))
	b.WriteString("Document content:\n")
	b.WriteString(truncate(item.Payload, e.settings.TruncateChars))
	b.WriteString("\n\n")

	b.WriteString("Extract the requested fields and respond with ONLY a JSON object of this exact shape:\n")
	b.WriteString(schemaExample(item.ItemID, schema))
	b.WriteString("\n\nField definitions:\n")
	for _, letter := range schema.ColumnLetters() {
		col := schema.Columns[letter]
		if col.Key == global.ReservedRowNumberKey {
			continue
		}
		if col.Description != "" {
			b.WriteString(fmt.Sprintf("- %s (%s): %s\n", col.Key, col.Header, col.Description))
		} else {
			b.WriteString(fmt.Sprintf("- %s (%s)\n", col.Key, col.Header))
		}
	}
	b.WriteString("\nReturn one record per logical row. Use null for values the documents do not contain. Do not include any text outside the JSON object.")

	return b.String()
}

// schemaExample renders the expected JSON response shape in column order
func schemaExample(itemID string, schema *global.OutputSchema) string {
	var b strings.Builder
	b.WriteString("{\n")
	b.WriteString(fmt.Sprintf("  %q: %q,\n", "item_id", itemID))
	b.WriteString("  \"records\": [\n    {\n")
	keys := schema.FieldKeys()
	for i, key := range keys {
		comma := ","
		if i == len(keys)-1 {
			comma = ""
		}
		b.WriteString(fmt.Sprintf("      %q: \"...\"%s\n", key, comma))
	}
	b.WriteString("    }\n  ]\n}")
	return b.String()
}

// truncate bounds s to max bytes, appending an explicit marker when cut.
// The cut backs off to a rune boundary so the prompt never carries a split
// multi-byte character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[truncated]"
}

func failResult(start time.Time, msg string) *ExecutionResult {
	return &ExecutionResult{
		Success:    false,
		Message:    msg,
		ElapsedSec: time.Since(start).Seconds(),
	}
}
