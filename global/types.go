/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"fmt"
	"sort"
	"time"
)

// Rule represents a single natural-language check rule applied to invoices
type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Prompt    string    `json:"prompt"`
	Severity  string    `json:"severity,omitempty"` // default severity hint for suggestions
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks rule field constraints
func (r *Rule) Validate() error {
	if len(r.Name) < MinRuleNameLength {
		return fmt.Errorf("rule name must be at least %d characters", MinRuleNameLength)
	}
	if !IsValidCategory(r.Category) {
		return fmt.Errorf("invalid rule category: %s", r.Category)
	}
	if len(r.Prompt) < MinRulePromptLength {
		return fmt.Errorf("rule prompt must be at least %d characters", MinRulePromptLength)
	}
	if r.Severity != "" && !IsValidSeverity(r.Severity) {
		return fmt.Errorf("invalid rule severity: %s", r.Severity)
	}
	return nil
}

// ColumnDef defines one output column of a structured task
type ColumnDef struct {
	Key         string `json:"key"`
	Header      string `json:"header"`
	Description string `json:"description,omitempty"`
}

// OutputSchema declares where and how a task's structured records are written.
// Columns are keyed by spreadsheet column letter (e.g., "A", "B", "AA").
type OutputSchema struct {
	TargetSheet string               `json:"target_sheet"`
	StartRow    int                  `json:"start_row"`
	Columns     map[string]ColumnDef `json:"columns"`
}

// Validate checks that the schema declares everything a run needs
func (s *OutputSchema) Validate() error {
	if s == nil {
		return fmt.Errorf("output schema is required")
	}
	if s.TargetSheet == "" {
		return fmt.Errorf("output schema missing target_sheet")
	}
	if s.StartRow < 1 {
		return fmt.Errorf("output schema start_row must be at least 1")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("output schema must define at least one column")
	}
	for letter, col := range s.Columns {
		if col.Key == "" {
			return fmt.Errorf("column %s missing key", letter)
		}
	}
	return nil
}

// ColumnLetters returns the schema's column letters in spreadsheet order
// (A..Z before AA..AZ, then by letter).
func (s *OutputSchema) ColumnLetters() []string {
	letters := make([]string, 0, len(s.Columns))
	for letter := range s.Columns {
		letters = append(letters, letter)
	}
	sort.Slice(letters, func(i, j int) bool {
		if len(letters[i]) != len(letters[j]) {
			return len(letters[i]) < len(letters[j])
		}
		return letters[i] < letters[j]
	})
	return letters
}

// FieldKeys returns the output field keys the LLM is expected to produce,
// in column order, excluding the reserved row_number key.
func (s *OutputSchema) FieldKeys() []string {
	var keys []string
	for _, letter := range s.ColumnLetters() {
		key := s.Columns[letter].Key
		if key == ReservedRowNumberKey {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// TaskConfig represents one accounting task definition
type TaskConfig struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	PromptTemplate string       `json:"prompt_template,omitempty"`
	OutputSchema   OutputSchema `json:"output_schema"`
	IsCustom       bool         `json:"is_custom,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Document represents one extracted evidence document
type Document struct {
	Path      string `json:"path"`
	Type      string `json:"type"`      // classified: invoice, payment, receipt, contract, other
	Extension string `json:"extension"` // lowercase, with dot
	Content   string `json:"content"`
	Size      int    `json:"size"`
}

// EvidenceItem is one second-tier evidence folder: an independently
// processable bundle of documents sharing a data id.
type EvidenceItem struct {
	ItemID    string              `json:"item_id"`
	Documents map[string]Document `json:"documents"` // keyed by file name
}

// EvidenceData is the result of processing a two-tier evidence archive
type EvidenceData struct {
	Items       map[string]EvidenceItem `json:"items"` // keyed by item id
	TotalItems  int                     `json:"total_items"`
	TotalDocs   int                     `json:"total_docs"`
	ProcessedAt time.Time               `json:"processed_at"`
}

// CheckResult is the structured outcome of applying one rule to one invoice
type CheckResult struct {
	RuleName string `json:"rule_name"`
	Severity string `json:"severity"` // info, warning, error
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	Passed   bool   `json:"passed"`
}

// InvoiceCheckReport is the per-invoice result of an invoice check run
type InvoiceCheckReport struct {
	FileName  string        `json:"file_name"`
	Checks    []CheckResult `json:"checks"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}
