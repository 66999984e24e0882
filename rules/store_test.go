/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package rules

import (
	"path/filepath"
	"testing"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

// newTestStore creates a store over a temp rules file
func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir := t.TempDir()
	logger, err := logging.New(filepath.Join(tmpDir, "test.log"))
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return NewStore(filepath.Join(tmpDir, "rules.json"), logger)
}

func TestStoreSeedsDefaults(t *testing.T) {
	s := newTestStore(t)

	result, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Total == 0 {
		t.Fatal("Expected default rules seeded on first use")
	}

	for _, rule := range result.Rules {
		if err := rule.Validate(); err != nil {
			t.Errorf("Default rule %q is invalid: %v", rule.Name, err)
		}
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	rule, err := s.Create("VAT number present", global.RuleCategoryFormat,
		"Verify the invoice carries a valid VAT registration number.", global.SeverityWarning)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rule.ID == "" {
		t.Error("Expected a generated rule id")
	}

	got, err := s.Get(rule.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "VAT number present" {
		t.Errorf("Expected name preserved, got %q", got.Name)
	}
}

func TestStoreCreateValidation(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name     string
		ruleName string
		category string
		prompt   string
		severity string
	}{
		{"short name", "ab", global.RuleCategoryDate, "A valid prompt here.", global.SeverityInfo},
		{"short prompt", "Valid name", global.RuleCategoryDate, "short", global.SeverityInfo},
		{"bad category", "Valid name", "fiscal", "A valid prompt here.", global.SeverityInfo},
		{"bad severity", "Valid name", global.RuleCategoryDate, "A valid prompt here.", "critical"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(tt.ruleName, tt.category, tt.prompt, tt.severity); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestStoreDuplicateName(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create("Tax check", global.RuleCategoryAmount, "Check the tax calculation.", global.SeverityError); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Create("tax CHECK", global.RuleCategoryAmount, "Another tax prompt here.", global.SeverityError); err == nil {
		t.Error("Expected case-insensitive duplicate name rejection")
	}
}

func TestStoreUpdate(t *testing.T) {
	s := newTestStore(t)

	rule, err := s.Create("Rounding check", global.RuleCategoryAmount, "Check rounding of line totals.", global.SeverityInfo)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	newSeverity := global.SeverityError
	updated, err := s.Update(rule.ID, nil, nil, nil, &newSeverity)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Severity != global.SeverityError {
		t.Errorf("Expected severity updated, got %s", updated.Severity)
	}
	if updated.Name != "Rounding check" {
		t.Errorf("Omitted fields must not change, got name %q", updated.Name)
	}

	bad := "not-a-severity"
	if _, err := s.Update(rule.ID, nil, nil, nil, &bad); err == nil {
		t.Error("Expected validation error on bad severity")
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)

	rule, err := s.Create("Temp rule", global.RuleCategoryOther, "A temporary test rule prompt.", global.SeverityInfo)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.Delete(rule.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(rule.ID); err == nil {
		t.Error("Expected rule gone after delete")
	}
	if err := s.Delete(rule.ID); err == nil {
		t.Error("Expected error deleting missing rule")
	}
}

func TestStoreSearch(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create("Currency conversion", global.RuleCategoryAmount,
		"Verify foreign currency conversions use the documented rate.", global.SeverityWarning); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	byKeyword, err := s.Search("currency", "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if byKeyword.Total != 1 {
		t.Errorf("Expected 1 keyword match, got %d", byKeyword.Total)
	}

	byCategory, err := s.Search("", global.RuleCategoryAmount)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if byCategory.Total < 1 {
		t.Error("Expected at least one amount-category rule")
	}
	for _, rule := range byCategory.Rules {
		if rule.Category != global.RuleCategoryAmount {
			t.Errorf("Category filter leaked rule %q (%s)", rule.Name, rule.Category)
		}
	}

	none, err := s.Search("zzz-no-such-keyword", "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if none.Total != 0 {
		t.Errorf("Expected no matches, got %d", none.Total)
	}
}

func TestStoreCategories(t *testing.T) {
	s := newTestStore(t)

	counts, err := s.Categories()
	if err != nil {
		t.Fatalf("Categories failed: %v", err)
	}
	for _, cat := range global.ValidCategories() {
		if _, ok := counts[cat]; !ok {
			t.Errorf("Category %s missing from counts", cat)
		}
	}
}

func TestStoreExportImport(t *testing.T) {
	src := newTestStore(t)
	dst := newTestStore(t)

	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	srcList, _ := src.List()
	imported, skipped, err := dst.Import(data, true)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported != srcList.Total {
		t.Errorf("Expected %d imported, got %d", srcList.Total, imported)
	}
	if skipped != 0 {
		t.Errorf("Expected 0 skipped, got %d", skipped)
	}

	dstList, _ := dst.List()
	if dstList.Total != srcList.Total {
		t.Errorf("Replace import: expected %d rules, got %d", srcList.Total, dstList.Total)
	}
}

func TestStoreImportSkipsInvalid(t *testing.T) {
	s := newTestStore(t)

	doc := `[
		{"name": "Good rule", "category": "date", "prompt": "A perfectly valid prompt.", "severity": "info"},
		{"name": "x", "category": "date", "prompt": "Name is too short here.", "severity": "info"}
	]`

	imported, skipped, err := s.Import([]byte(doc), false)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported != 1 {
		t.Errorf("Expected 1 imported, got %d", imported)
	}
	if skipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", skipped)
	}
}
