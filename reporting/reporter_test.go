/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ClearClose/Vouch/engine"
	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

func newTestReporter(t *testing.T, opts ...Option) *Reporter {
	t.Helper()
	logger, err := logging.New(filepath.Join(t.TempDir(), "test.log"))
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return New(logger, opts...)
}

func testExecutionResult() *engine.ExecutionResult {
	return &engine.ExecutionResult{
		Success:    true,
		TaskName:   "Payment reconciliation",
		ElapsedSec: 4.2,
		Receipt:    &engine.WriteReceipt{WrittenRows: 2, Range: "Results!A1:C3"},
		Aggregate: &engine.AggregateResult{
			Records: []map[string]interface{}{
				{"payee": "Acme Office Supply", "amount": 120.5, "match_status": "matched"},
				{"payee": "Metro Utilities", "amount": 47.0, "match_status": "mismatched"},
			},
			ProcessedCount:  3,
			SuccessCount:    2,
			TotalTokens:     150,
			TotalAmount:     167.5,
			MatchedCount:    1,
			MismatchedCount: 1,
			Errors: []engine.ItemError{
				{ItemID: "inv-003", Message: "llm call failed"},
			},
		},
	}
}

func TestBuildRunReport(t *testing.T) {
	r := newTestReporter(t)

	report := r.BuildRunReport(testExecutionResult())

	if report.TaskName != "Payment reconciliation" {
		t.Errorf("Unexpected task name: %s", report.TaskName)
	}
	if !report.Success {
		t.Error("Expected success")
	}
	if report.WrittenTo != "Results!A1:C3" {
		t.Errorf("Unexpected written range: %s", report.WrittenTo)
	}
	if report.Summary.ProcessedItems != 3 || report.Summary.SucceededItems != 2 || report.Summary.FailedItems != 1 {
		t.Errorf("Unexpected summary counts: %+v", report.Summary)
	}
	if report.Summary.MatchedCount != 1 || report.Summary.MismatchedCount != 1 {
		t.Errorf("Unexpected match counts: %+v", report.Summary)
	}
	if report.Summary.TotalAmount != 167.5 {
		t.Errorf("Expected total amount 167.5, got %v", report.Summary.TotalAmount)
	}
	if report.Summary.TotalTokens != 150 {
		t.Errorf("Expected 150 tokens, got %d", report.Summary.TotalTokens)
	}
	if len(report.Records) != 2 || len(report.Errors) != 1 {
		t.Errorf("Expected 2 records and 1 error, got %d / %d", len(report.Records), len(report.Errors))
	}
	if report.GeneratedAt.IsZero() {
		t.Error("GeneratedAt must be set")
	}
}

func TestBuildRunReportWithoutAggregate(t *testing.T) {
	r := newTestReporter(t)

	report := r.BuildRunReport(&engine.ExecutionResult{
		Success: false,
		Message: "task not found: bogus",
	})

	if report.Success {
		t.Error("Expected failure carried over")
	}
	if report.Message != "task not found: bogus" {
		t.Errorf("Unexpected message: %s", report.Message)
	}
	if report.Summary.ProcessedItems != 0 || len(report.Records) != 0 {
		t.Errorf("Expected empty summary, got %+v", report.Summary)
	}
}

func TestBuildCheckReport(t *testing.T) {
	r := newTestReporter(t)

	files := []global.InvoiceCheckReport{
		{
			FileName: "invoice-a.txt",
			Checks: []global.CheckResult{
				{RuleName: "Date check", Severity: global.SeverityInfo, Passed: true},
				{RuleName: "Amount check", Severity: global.SeverityError, Passed: false},
			},
		},
		{
			FileName: "invoice-b.txt",
			Checks: []global.CheckResult{
				{RuleName: "Date check", Severity: global.SeverityWarning, Passed: false},
			},
		},
		{
			FileName: "invoice-c.txt",
			Error:    "extraction failed: no such file",
		},
	}

	report := r.BuildCheckReport(files, 2.5)

	if report.Summary.TotalFiles != 3 {
		t.Errorf("Expected 3 files, got %d", report.Summary.TotalFiles)
	}
	if report.Summary.PassedChecks != 1 || report.Summary.FailedChecks != 2 {
		t.Errorf("Unexpected check counts: %+v", report.Summary)
	}
	// Severity breakdown covers failures only
	if report.Summary.BySeverity[global.SeverityError] != 1 || report.Summary.BySeverity[global.SeverityWarning] != 1 {
		t.Errorf("Unexpected severity breakdown: %v", report.Summary.BySeverity)
	}
	if _, ok := report.Summary.BySeverity[global.SeverityInfo]; ok {
		t.Error("Passed checks must not appear in the severity breakdown")
	}
	if report.ElapsedSec != 2.5 {
		t.Errorf("Expected elapsed 2.5, got %v", report.ElapsedSec)
	}
}

func TestRunMarkdown(t *testing.T) {
	r := newTestReporter(t)

	md, err := r.RunMarkdown(r.BuildRunReport(testExecutionResult()))
	if err != nil {
		t.Fatalf("RunMarkdown failed: %v", err)
	}

	for _, want := range []string{
		"# Task Run: Payment reconciliation",
		"**Outcome**: success",
		"| Items processed | 3 |",
		"| Succeeded | 2 |",
		"| Matched | 1 |",
		"| Total amount | 167.50 |",
		"| Written to | Results!A1:C3 |",
		"**inv-003**: llm call failed",
		"```json",
		"Acme Office Supply",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown missing %q:\n%s", want, md)
		}
	}
}

func TestCheckMarkdown(t *testing.T) {
	r := newTestReporter(t)

	files := []global.InvoiceCheckReport{
		{
			FileName: "invoice-a.txt",
			Checks: []global.CheckResult{
				{RuleName: "Date check", Severity: global.SeverityInfo, Message: "Date is plausible", Passed: true},
				{RuleName: "Amount check", Severity: global.SeverityError, Message: "Totals disagree", Details: "Header says $100, lines sum to $90", Passed: false},
			},
		},
		{
			FileName: "invoice-b.txt",
			Error:    "extraction failed",
		},
	}

	md, err := r.CheckMarkdown(r.BuildCheckReport(files, 1.0))
	if err != nil {
		t.Fatalf("CheckMarkdown failed: %v", err)
	}

	for _, want := range []string{
		"# Invoice Check Report",
		"- **Files checked**: 2",
		"- **Checks passed**: 1",
		"- **Checks failed**: 1",
		"### Failures by severity",
		"## invoice-a.txt",
		"### Date check — pass (info)",
		"### Amount check — FAIL (error)",
		"Header says $100, lines sum to $90",
		"**Error**: extraction failed",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown missing %q:\n%s", want, md)
		}
	}
}

func TestGenerateJSON(t *testing.T) {
	r := newTestReporter(t)

	out, err := r.GenerateJSON(r.BuildRunReport(testExecutionResult()))
	if err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}

	var parsed RunReport
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("Generated JSON does not parse: %v", err)
	}
	if parsed.Summary.TotalTokens != 150 {
		t.Errorf("Round-tripped tokens = %d, want 150", parsed.Summary.TotalTokens)
	}
}

func TestRenderWithTemplate(t *testing.T) {
	templates := map[string]string{
		"custom.tmpl": "Run {{.TaskName}}: {{.Summary.ProcessedItems}} items, total {{amount .Summary.TotalAmount}}",
		"broken.tmpl": "{{.DoesNotExist.Inner}}",
	}
	loader := ContentLoaderFunc(func(path string) (string, error) {
		if content, ok := templates[path]; ok {
			return content, nil
		}
		return "", fmt.Errorf("not found: %s", path)
	})
	r := newTestReporter(t, WithTemplateLoader(loader))
	report := r.BuildRunReport(testExecutionResult())

	out := r.RenderWithTemplate(report, "custom.tmpl")
	if out != "Run Payment reconciliation: 3 items, total 167.50" {
		t.Errorf("Unexpected template output: %q", out)
	}

	// Missing and broken templates fall back to the built-in markdown
	for _, path := range []string{"missing.tmpl", "broken.tmpl", ""} {
		out := r.RenderWithTemplate(report, path)
		if !strings.Contains(out, "# Task Run: Payment reconciliation") {
			t.Errorf("Expected markdown fallback for %q, got %q", path, out)
		}
	}
}

func TestSaveReports(t *testing.T) {
	r := newTestReporter(t)
	tmpDir := t.TempDir()

	runPath := filepath.Join(tmpDir, "reports", "run.md")
	if err := r.SaveRunReport(r.BuildRunReport(testExecutionResult()), runPath, "markdown"); err != nil {
		t.Fatalf("SaveRunReport failed: %v", err)
	}
	data, err := os.ReadFile(runPath)
	if err != nil {
		t.Fatalf("Failed to read saved report: %v", err)
	}
	if !strings.Contains(string(data), "# Task Run") {
		t.Error("Saved run report missing markdown heading")
	}

	checkPath := filepath.Join(tmpDir, "reports", "check.json")
	check := r.BuildCheckReport([]global.InvoiceCheckReport{{FileName: "invoice-a.txt"}}, 1.0)
	if err := r.SaveCheckReport(check, checkPath, "json"); err != nil {
		t.Fatalf("SaveCheckReport failed: %v", err)
	}
	data, err = os.ReadFile(checkPath)
	if err != nil {
		t.Fatalf("Failed to read saved report: %v", err)
	}
	var parsed CheckReport
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Saved JSON report does not parse: %v", err)
	}
}

func TestGenerateFilename(t *testing.T) {
	name := GenerateFilename("run", "markdown")
	if !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".md") {
		t.Errorf("Unexpected filename: %s", name)
	}

	name = GenerateFilename("", "json")
	if !strings.HasPrefix(name, "report-") || !strings.HasSuffix(name, ".json") {
		t.Errorf("Unexpected filename: %s", name)
	}
}
