/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"reflect"
	"testing"
)

func TestOutputSchemaValidate(t *testing.T) {
	valid := OutputSchema{
		TargetSheet: "Results",
		StartRow:    1,
		Columns: map[string]ColumnDef{
			"A": {Key: "row_number", Header: "#"},
			"B": {Key: "amount", Header: "Amount"},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid schema rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*OutputSchema)
	}{
		{"missing target sheet", func(s *OutputSchema) { s.TargetSheet = "" }},
		{"start row below 1", func(s *OutputSchema) { s.StartRow = 0 }},
		{"no columns", func(s *OutputSchema) { s.Columns = nil }},
		{"column missing key", func(s *OutputSchema) {
			s.Columns = map[string]ColumnDef{"A": {Header: "Empty"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			s.Columns = map[string]ColumnDef{}
			for k, v := range valid.Columns {
				s.Columns[k] = v
			}
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}

	var nilSchema *OutputSchema
	if err := nilSchema.Validate(); err == nil {
		t.Error("Nil schema must fail validation")
	}
}

func TestColumnLetters(t *testing.T) {
	s := OutputSchema{
		Columns: map[string]ColumnDef{
			"AA": {Key: "notes"},
			"B":  {Key: "amount"},
			"A":  {Key: "row_number"},
			"Z":  {Key: "status"},
			"AB": {Key: "extra"},
		},
	}

	got := s.ColumnLetters()
	want := []string{"A", "B", "Z", "AA", "AB"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ColumnLetters() = %v, want %v", got, want)
	}
}

func TestFieldKeys(t *testing.T) {
	s := OutputSchema{
		Columns: map[string]ColumnDef{
			"A": {Key: ReservedRowNumberKey},
			"B": {Key: "payee"},
			"C": {Key: "amount"},
		},
	}

	got := s.FieldKeys()
	want := []string{"payee", "amount"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FieldKeys() = %v, want %v", got, want)
	}
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{
		Name:     "Currency consistency",
		Category: "format",
		Prompt:   "Verify all amounts on the invoice use the same currency.",
		Severity: SeverityWarning,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid rule rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"short name", func(r *Rule) { r.Name = "ab" }},
		{"bad category", func(r *Rule) { r.Category = "fiscal" }},
		{"short prompt", func(r *Rule) { r.Prompt = "short" }},
		{"bad severity", func(r *Rule) { r.Severity = "critical" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}

	// Empty severity defaults later; it is not a validation failure
	r := valid
	r.Severity = ""
	if err := r.Validate(); err != nil {
		t.Errorf("Empty severity must be accepted: %v", err)
	}
}
