/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ClearClose/Vouch/global"
)

// stubTasks serves a single fixed task configuration
type stubTasks struct {
	task *global.TaskConfig
}

func (s *stubTasks) GetTask(id string) (*global.TaskConfig, error) {
	if s.task != nil && s.task.ID == id {
		return s.task, nil
	}
	return nil, fmt.Errorf("task not found: %s", id)
}

// stubCompleter returns a canned response per item id
type stubCompleter struct {
	respond func(prompt string) (string, int, error)
	prompts []string
}

func (s *stubCompleter) Complete(_ context.Context, _ string, prompt string) (string, int, error) {
	s.prompts = append(s.prompts, prompt)
	return s.respond(prompt)
}

// stubWriter records what was written
type stubWriter struct {
	ready   bool
	failErr error
	written []map[string]interface{}
}

func (s *stubWriter) Ready() bool { return s.ready }

func (s *stubWriter) WriteRecords(_ string, _ int, _ *global.OutputSchema, records []map[string]interface{}) (*WriteReceipt, error) {
	if s.failErr != nil {
		return nil, s.failErr
	}
	s.written = records
	return &WriteReceipt{WrittenRows: len(records), Range: "Sheet!A2:B3"}, nil
}

func testTask() *global.TaskConfig {
	return &global.TaskConfig{
		ID:             "test-task",
		Name:           "Test Task",
		PromptTemplate: "Extract the fields.",
		OutputSchema: global.OutputSchema{
			TargetSheet: "Sheet",
			StartRow:    1,
			Columns: map[string]global.ColumnDef{
				"A": {Key: "row_number", Header: "#"},
				"B": {Key: "amount", Header: "Amount"},
			},
		},
	}
}

func newTestEngine(t *testing.T, completer Completer) *Engine {
	t.Helper()
	return New(newTestLogger(t), &stubTasks{task: testTask()}, completer, Settings{
		MaxWorkers:        2,
		TruncateChars:     100,
		RateLimitRequests: 1000,
		RateLimitPeriod:   60,
	})
}

func TestExecuteSuccess(t *testing.T) {
	completer := &stubCompleter{respond: func(prompt string) (string, int, error) {
		// Echo back a valid envelope; the item id is embedded in the prompt
		for _, id := range []string{"inv-1", "inv-2"} {
			if strings.Contains(prompt, "Item ID: "+id) {
				return fmt.Sprintf(`{"item_id": %q, "records": [{"amount": 10}]}`, id), 5, nil
			}
		}
		return "", 0, fmt.Errorf("unexpected prompt")
	}}
	writer := &stubWriter{ready: true}
	e := newTestEngine(t, completer)

	result := e.Execute(context.Background(), &ExecuteRequest{
		TaskID: "test-task",
		Items:  []WorkItem{{ItemID: "inv-1", Payload: "doc one"}, {ItemID: "inv-2", Payload: "doc two"}},
		Writer: writer,
	})

	if !result.Success {
		t.Fatalf("Expected success, got: %s", result.Message)
	}
	if result.TaskName != "Test Task" {
		t.Errorf("Expected task name, got %q", result.TaskName)
	}
	if result.Aggregate.SuccessCount != 2 {
		t.Errorf("Expected 2 successes, got %d", result.Aggregate.SuccessCount)
	}
	if result.Receipt == nil || result.Receipt.WrittenRows != 2 {
		t.Errorf("Expected 2 written rows, got %+v", result.Receipt)
	}
	if len(writer.written) != 2 {
		t.Errorf("Writer received %d records, want 2", len(writer.written))
	}
	if result.Aggregate.TotalTokens != 10 {
		t.Errorf("Expected 10 tokens, got %d", result.Aggregate.TotalTokens)
	}
}

func TestExecuteEmptyBatch(t *testing.T) {
	completer := &stubCompleter{respond: func(string) (string, int, error) {
		return "", 0, fmt.Errorf("must not be called")
	}}
	e := newTestEngine(t, completer)

	progressCalls := 0
	result := e.Execute(context.Background(), &ExecuteRequest{
		TaskID:   "test-task",
		Items:    nil,
		Writer:   &stubWriter{ready: true},
		Progress: func(int, int, string) { progressCalls++ },
	})

	if !result.Success {
		t.Fatalf("Empty batch must succeed, got: %s", result.Message)
	}
	if len(completer.prompts) != 0 {
		t.Errorf("Empty batch must not call the LLM, got %d calls", len(completer.prompts))
	}
	if progressCalls != 0 {
		t.Errorf("Empty batch must not report progress, got %d calls", progressCalls)
	}
	if result.Aggregate == nil || len(result.Aggregate.Records) != 0 {
		t.Errorf("Expected empty aggregate, got %+v", result.Aggregate)
	}
}

func TestExecuteUnknownTask(t *testing.T) {
	completer := &stubCompleter{respond: func(string) (string, int, error) {
		return "", 0, fmt.Errorf("must not be called")
	}}
	e := newTestEngine(t, completer)

	result := e.Execute(context.Background(), &ExecuteRequest{
		TaskID: "missing",
		Items:  []WorkItem{{ItemID: "a", Payload: "x"}},
		Writer: &stubWriter{ready: true},
	})

	if result.Success {
		t.Fatal("Expected failure for unknown task")
	}
	if len(completer.prompts) != 0 {
		t.Error("Precondition failure must not call the LLM")
	}
}

func TestExecuteWriterNotReady(t *testing.T) {
	completer := &stubCompleter{respond: func(string) (string, int, error) {
		return "", 0, fmt.Errorf("must not be called")
	}}
	e := newTestEngine(t, completer)

	result := e.Execute(context.Background(), &ExecuteRequest{
		TaskID: "test-task",
		Items:  []WorkItem{{ItemID: "a", Payload: "x"}},
		Writer: &stubWriter{ready: false},
	})

	if result.Success {
		t.Fatal("Expected failure for unready writer")
	}
	if len(completer.prompts) != 0 {
		t.Error("Precondition failure must not call the LLM")
	}
}

func TestExecuteWriteFailureKeepsAggregate(t *testing.T) {
	completer := &stubCompleter{respond: func(prompt string) (string, int, error) {
		return `{"item_id": "a", "records": [{"amount": 7}]}`, 3, nil
	}}
	writer := &stubWriter{ready: true, failErr: fmt.Errorf("disk full")}
	e := newTestEngine(t, completer)

	result := e.Execute(context.Background(), &ExecuteRequest{
		TaskID: "test-task",
		Items:  []WorkItem{{ItemID: "a", Payload: "x"}},
		Writer: writer,
	})

	if result.Success {
		t.Fatal("Expected failure when write fails")
	}
	if !strings.Contains(result.Message, "write failed") {
		t.Errorf("Message should name the write failure, got %q", result.Message)
	}
	if result.Aggregate == nil || len(result.Aggregate.Records) != 1 {
		t.Error("Aggregate must remain available after a write failure")
	}
}

func TestExecuteDegradedItem(t *testing.T) {
	completer := &stubCompleter{respond: func(prompt string) (string, int, error) {
		if strings.Contains(prompt, "Item ID: good") {
			return `{"item_id": "good", "records": [{"amount": 1}]}`, 2, nil
		}
		return "The document was completely unreadable.", 2, nil
	}}
	writer := &stubWriter{ready: true}
	e := newTestEngine(t, completer)

	result := e.Execute(context.Background(), &ExecuteRequest{
		TaskID: "test-task",
		Items:  []WorkItem{{ItemID: "good", Payload: "x"}, {ItemID: "ugly", Payload: "y"}},
		Writer: writer,
	})

	if !result.Success {
		t.Fatalf("Partial success is still success, got: %s", result.Message)
	}
	if result.Aggregate.SuccessCount != 1 {
		t.Errorf("Expected 1 success, got %d", result.Aggregate.SuccessCount)
	}
	if len(result.Aggregate.Errors) != 1 {
		t.Fatalf("Expected 1 error entry, got %d", len(result.Aggregate.Errors))
	}
	if result.Aggregate.Errors[0].ItemID != "ugly" {
		t.Errorf("Expected error for item ugly, got %s", result.Aggregate.Errors[0].ItemID)
	}

	// The degraded item contributes a minimal error record
	var degraded map[string]interface{}
	for _, rec := range result.Aggregate.Records {
		if rec["item_id"] == "ugly" {
			degraded = rec
		}
	}
	if degraded == nil {
		t.Fatal("Expected a degraded record for item ugly")
	}
	if degraded["status"] != global.RecordStatusError {
		t.Errorf("Expected status %q, got %v", global.RecordStatusError, degraded["status"])
	}

	// Tokens count even for the degraded item
	if result.Aggregate.TotalTokens != 4 {
		t.Errorf("Expected 4 tokens, got %d", result.Aggregate.TotalTokens)
	}
}

func TestExecuteLLMFailure(t *testing.T) {
	completer := &stubCompleter{respond: func(prompt string) (string, int, error) {
		return "", 0, fmt.Errorf("LLM exited with code 1")
	}}
	writer := &stubWriter{ready: true}
	e := newTestEngine(t, completer)

	result := e.Execute(context.Background(), &ExecuteRequest{
		TaskID: "test-task",
		Items:  []WorkItem{{ItemID: "a", Payload: "x"}},
		Writer: writer,
	})

	// A failed item does not fail the run; the write still happens
	if !result.Success {
		t.Fatalf("Expected success with per-item failure absorbed, got: %s", result.Message)
	}
	if result.Aggregate.SuccessCount != 0 {
		t.Errorf("Expected 0 successes, got %d", result.Aggregate.SuccessCount)
	}
	if len(result.Aggregate.Errors) != 1 {
		t.Errorf("Expected 1 error, got %d", len(result.Aggregate.Errors))
	}
	if len(result.Aggregate.RawResponses) != 0 {
		t.Error("Failed call without text must not appear in raw responses")
	}
}

func TestBuildPromptContents(t *testing.T) {
	e := newTestEngine(t, &stubCompleter{respond: func(string) (string, int, error) { return "", 0, nil }})

	task := testTask()
	longPayload := strings.Repeat("x", 500)
	prompt := e.buildPrompt(task, &task.OutputSchema, "Focus on totals.", WorkItem{
		ItemID:  "inv-9",
		Payload: longPayload,
		Context: "2 document(s)",
	})

	for _, want := range []string{
		"Extract the fields.",
		"Additional instructions:",
		"Focus on totals.",
		"Item ID: inv-9",
		"[truncated]",
		`"item_id": "inv-9"`,
		`"amount"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}

	// row_number is workbook-internal and must not be requested from the LLM
	if strings.Contains(prompt, "row_number") {
		t.Error("Prompt must not ask for row_number")
	}
}

func TestTruncateRuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
	}{
		{"ascii", strings.Repeat("x", 100), 50},
		{"multi-byte mid-rune", strings.Repeat("請", 100), 50},
		{"multi-byte on boundary", strings.Repeat("請", 100), 51},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := truncate(tt.in, tt.max)
			if !strings.Contains(out, "[truncated]") {
				t.Error("Expected truncation marker")
			}
			if !utf8.ValidString(out) {
				t.Error("Truncation produced an invalid UTF-8 sequence")
			}
			if len(out) > tt.max+len("\n[truncated]") {
				t.Errorf("Output exceeds bound: %d bytes", len(out))
			}
		})
	}

	short := "short"
	if got := truncate(short, 100); got != short {
		t.Errorf("Expected input unchanged, got %q", got)
	}
}
