/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package workbook

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	tmpDir := t.TempDir()
	logger, err := logging.New(filepath.Join(tmpDir, "test.log"))
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return NewManager(filepath.Join(tmpDir, "workbooks"), logger)
}

func testSchema() *global.OutputSchema {
	return &global.OutputSchema{
		TargetSheet: "Results",
		StartRow:    1,
		Columns: map[string]global.ColumnDef{
			"A": {Key: "row_number", Header: "#"},
			"B": {Key: "payee", Header: "Payee"},
			"C": {Key: "amount", Header: "Amount"},
		},
	}
}

func TestLoadCreatesEmptyWorkbook(t *testing.T) {
	m := newTestManager(t)

	wb, err := m.Load("ledger")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !wb.Ready() {
		t.Error("New workbook must be ready")
	}
	if wb.Name() != "ledger" {
		t.Errorf("Expected name ledger, got %s", wb.Name())
	}
	if len(wb.SheetNames()) != 0 {
		t.Errorf("Expected no sheets, got %v", wb.SheetNames())
	}
}

func TestLoadRejectsPathSeparators(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Load(""); err == nil {
		t.Error("Expected error for empty name")
	}
	if _, err := m.Load("../escape"); err == nil {
		t.Error("Expected error for name with path separators")
	}
}

func TestWriteRecordsLayout(t *testing.T) {
	m := newTestManager(t)
	wb, err := m.Load("ledger")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	records := []map[string]interface{}{
		{"payee": "Acme Office Supply", "amount": 120.50},
		{"payee": "Metro Utilities", "amount": nil},
	}

	receipt, err := wb.WriteRecords("Results", 1, testSchema(), records)
	if err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}
	if receipt.WrittenRows != 2 {
		t.Errorf("Expected 2 written rows, got %d", receipt.WrittenRows)
	}
	if receipt.Range != "Results!A1:C3" {
		t.Errorf("Expected range Results!A1:C3, got %s", receipt.Range)
	}

	sheet := wb.sheets["Results"]
	if sheet == nil {
		t.Fatal("Sheet Results not created")
	}
	if sheet.Cells["A1"] != "#" || sheet.Cells["B1"] != "Payee" || sheet.Cells["C1"] != "Amount" {
		t.Errorf("Unexpected header row: %v %v %v", sheet.Cells["A1"], sheet.Cells["B1"], sheet.Cells["C1"])
	}
	if sheet.Cells["A2"] != 1 {
		t.Errorf("Expected row_number 1 in A2, got %v", sheet.Cells["A2"])
	}
	if sheet.Cells["B2"] != "Acme Office Supply" {
		t.Errorf("Expected payee in B2, got %v", sheet.Cells["B2"])
	}
	if sheet.Cells["C2"] != 120.50 {
		t.Errorf("Expected amount in C2, got %v", sheet.Cells["C2"])
	}
	if _, ok := sheet.Cells["C3"]; ok {
		t.Error("Nil value must not produce a cell")
	}
	if sheet.Cells["A3"] != 2 {
		t.Errorf("Expected row_number 2 in A3, got %v", sheet.Cells["A3"])
	}
}

func TestWriteRecordsValidation(t *testing.T) {
	m := newTestManager(t)
	wb, err := m.Load("ledger")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := wb.WriteRecords("Results", 0, testSchema(), nil); err == nil {
		t.Error("Expected error for start row below 1")
	}

	var unloaded *Workbook
	if unloaded.Ready() {
		t.Error("Nil workbook must not be ready")
	}
}

func TestWorkbookPersistence(t *testing.T) {
	m := newTestManager(t)

	wb, err := m.Load("ledger")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	records := []map[string]interface{}{
		{"payee": "Acme Office Supply", "amount": 99.95},
	}
	if _, err := wb.WriteRecords("Results", 1, testSchema(), records); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	reloaded, err := m.Load("ledger")
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	names := reloaded.SheetNames()
	if len(names) != 1 || names[0] != "Results" {
		t.Fatalf("Expected sheet Results after reload, got %v", names)
	}
	if reloaded.sheets["Results"].Cells["B2"] != "Acme Office Supply" {
		t.Errorf("Expected persisted payee, got %v", reloaded.sheets["Results"].Cells["B2"])
	}
}

func TestExportCSV(t *testing.T) {
	m := newTestManager(t)
	wb, err := m.Load("ledger")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	records := []map[string]interface{}{
		{"payee": "Acme Office Supply", "amount": 120.5},
		{"payee": "Metro Utilities", "amount": 47.0},
	}
	if _, err := wb.WriteRecords("Results", 1, testSchema(), records); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	data, err := wb.ExportCSV("Results")
	if err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 CSV lines, got %d: %q", len(lines), string(data))
	}
	if lines[0] != "#,Payee,Amount" {
		t.Errorf("Unexpected header line: %q", lines[0])
	}
	if lines[1] != "1,Acme Office Supply,120.5" {
		t.Errorf("Unexpected first data line: %q", lines[1])
	}
	if lines[2] != "2,Metro Utilities,47" {
		t.Errorf("Unexpected second data line: %q", lines[2])
	}

	if _, err := wb.ExportCSV("Missing"); err == nil {
		t.Error("Expected error for missing sheet")
	}
}
