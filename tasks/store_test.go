/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package tasks

import (
	"path/filepath"
	"testing"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir := t.TempDir()
	logger, err := logging.New(filepath.Join(tmpDir, "test.log"))
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return NewStore(filepath.Join(tmpDir, "tasks.json"), logger)
}

func testSchema() global.OutputSchema {
	return global.OutputSchema{
		TargetSheet: "Results",
		StartRow:    2,
		Columns: map[string]global.ColumnDef{
			"A": {Key: "row_number", Header: "#"},
			"B": {Key: "payee", Header: "Payee"},
			"C": {Key: "amount", Header: "Amount"},
		},
	}
}

func TestBuiltinTasksAvailable(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{TaskPaymentReconciliation, TaskExpenseListing} {
		task, err := s.GetTask(id)
		if err != nil {
			t.Fatalf("GetTask(%s) failed: %v", id, err)
		}
		if task.IsCustom {
			t.Errorf("Built-in task %s must not be custom", id)
		}
		if err := task.OutputSchema.Validate(); err != nil {
			t.Errorf("Built-in task %s has invalid schema: %v", id, err)
		}
		if task.PromptTemplate == "" {
			t.Errorf("Built-in task %s has no prompt template", id)
		}
	}
}

func TestListIncludesBuiltinsAndCustoms(t *testing.T) {
	s := newTestStore(t)

	before, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	builtins := before.Total
	if builtins < 2 {
		t.Fatalf("Expected at least 2 built-in tasks, got %d", builtins)
	}

	if _, err := s.Create("Travel expenses", "Per-trip listing", "List travel expenses per receipt.", testSchema()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	after, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if after.Total != builtins+1 {
		t.Errorf("Expected %d tasks after create, got %d", builtins+1, after.Total)
	}
}

func TestCreateAndGetCustomTask(t *testing.T) {
	s := newTestStore(t)

	task, err := s.Create("Fixed asset register", "", "Extract fixed asset purchases.", testSchema())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !task.IsCustom {
		t.Error("Created task must be marked custom")
	}

	got, err := s.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Name != "Fixed asset register" {
		t.Errorf("Expected name preserved, got %q", got.Name)
	}
	if got.OutputSchema.TargetSheet != "Results" {
		t.Errorf("Expected schema preserved, got sheet %q", got.OutputSchema.TargetSheet)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create("", "", "A prompt.", testSchema()); err == nil {
		t.Error("Expected error for empty name")
	}
	if _, err := s.Create("Name", "", "", testSchema()); err == nil {
		t.Error("Expected error for empty prompt template")
	}

	bad := testSchema()
	bad.TargetSheet = ""
	if _, err := s.Create("Name", "", "A prompt.", bad); err == nil {
		t.Error("Expected error for invalid schema")
	}

	if _, err := s.Create("Dup task", "", "A prompt.", testSchema()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Create("DUP TASK", "", "Another prompt.", testSchema()); err == nil {
		t.Error("Expected case-insensitive duplicate name rejection")
	}
}

func TestGetTaskUnknown(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetTask("no-such-task"); err == nil {
		t.Error("Expected error for unknown task id")
	}
}
