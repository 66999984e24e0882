/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package reporting renders task runs and invoice check runs as markdown
// or JSON reports.
package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/ClearClose/Vouch/engine"
	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

// ContentLoader loads template content by path
type ContentLoader interface {
	GetContent(path string) (string, error)
}

// ContentLoaderFunc is a function type that implements ContentLoader
type ContentLoaderFunc func(path string) (string, error)

// GetContent implements ContentLoader
func (f ContentLoaderFunc) GetContent(path string) (string, error) {
	return f(path)
}

// Reporter generates reports from run results
type Reporter struct {
	logger         *logging.Logger
	templateLoader ContentLoader
	templateCache  map[string]*template.Template
}

// Option configures a Reporter
type Option func(*Reporter)

// WithTemplateLoader sets the loader used for custom report templates
func WithTemplateLoader(loader ContentLoader) Option {
	return func(r *Reporter) {
		r.templateLoader = loader
	}
}

// New creates a new Reporter
func New(logger *logging.Logger, opts ...Option) *Reporter {
	r := &Reporter{
		logger:        logger,
		templateCache: make(map[string]*template.Template),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// loadTemplate loads and parses a custom template
func (r *Reporter) loadTemplate(templatePath string) (*template.Template, error) {
	if tmpl, ok := r.templateCache[templatePath]; ok {
		return tmpl, nil
	}

	if r.templateLoader == nil {
		return nil, fmt.Errorf("template loader not configured")
	}

	content, err := r.templateLoader.GetContent(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	tmpl, err := template.New(templatePath).Funcs(templateFuncs()).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	r.templateCache[templatePath] = tmpl
	return tmpl, nil
}

// templateFuncs returns custom template functions
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"json": func(v interface{}) string {
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprintf("error: %v", err)
			}
			return string(data)
		},
		"amount": func(v interface{}) string {
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%.2f", f)
			}
			return fmt.Sprintf("%v", v)
		},
	}
}

// RunReport represents a completed task run
type RunReport struct {
	TaskName    string                   `json:"task_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Success     bool                     `json:"success"`
	Message     string                   `json:"message,omitempty"`
	Summary     RunSummary               `json:"summary"`
	WrittenTo   string                   `json:"written_to,omitempty"`
	Records     []map[string]interface{} `json:"records,omitempty"`
	Errors      []engine.ItemError       `json:"errors,omitempty"`
	ElapsedSec  float64                  `json:"elapsed_seconds"`
}

// RunSummary contains aggregate statistics for a run
type RunSummary struct {
	ProcessedItems  int     `json:"processed_items"`
	SucceededItems  int     `json:"succeeded_items"`
	FailedItems     int     `json:"failed_items"`
	MatchedCount    int     `json:"matched_count"`
	MismatchedCount int     `json:"mismatched_count"`
	TotalAmount     float64 `json:"total_amount"`
	TotalTokens     int     `json:"total_tokens"`
}

// CheckReport represents a completed invoice check run
type CheckReport struct {
	GeneratedAt time.Time                   `json:"generated_at"`
	Summary     CheckSummary                `json:"summary"`
	Files       []global.InvoiceCheckReport `json:"files"`
	ElapsedSec  float64                     `json:"elapsed_seconds"`
}

// CheckSummary contains aggregate statistics for a check run
type CheckSummary struct {
	TotalFiles   int            `json:"total_files"`
	PassedChecks int            `json:"passed_checks"`
	FailedChecks int            `json:"failed_checks"`
	BySeverity   map[string]int `json:"by_severity,omitempty"`
}

// BuildRunReport builds a report from an execution result
func (r *Reporter) BuildRunReport(result *engine.ExecutionResult) *RunReport {
	report := &RunReport{
		TaskName:    result.TaskName,
		GeneratedAt: time.Now(),
		Success:     result.Success,
		Message:     result.Message,
		ElapsedSec:  result.ElapsedSec,
	}

	if result.Receipt != nil {
		report.WrittenTo = result.Receipt.Range
	}

	if agg := result.Aggregate; agg != nil {
		report.Records = agg.Records
		report.Errors = agg.Errors
		report.Summary = RunSummary{
			ProcessedItems:  agg.ProcessedCount,
			SucceededItems:  agg.SuccessCount,
			FailedItems:     agg.ProcessedCount - agg.SuccessCount,
			MatchedCount:    agg.MatchedCount,
			MismatchedCount: agg.MismatchedCount,
			TotalAmount:     agg.TotalAmount,
			TotalTokens:     agg.TotalTokens,
		}
	}

	return report
}

// BuildCheckReport builds a report from invoice check results
func (r *Reporter) BuildCheckReport(files []global.InvoiceCheckReport, elapsedSec float64) *CheckReport {
	report := &CheckReport{
		GeneratedAt: time.Now(),
		Files:       files,
		ElapsedSec:  elapsedSec,
		Summary: CheckSummary{
			TotalFiles: len(files),
			BySeverity: make(map[string]int),
		},
	}

	for _, file := range files {
		for _, check := range file.Checks {
			if check.Passed {
				report.Summary.PassedChecks++
			} else {
				report.Summary.FailedChecks++
				report.Summary.BySeverity[check.Severity]++
			}
		}
	}

	return report
}

// RenderWithTemplate renders a run report through a custom template.
// Falls back to the built-in markdown rendering if the template cannot
// be loaded or executed.
func (r *Reporter) RenderWithTemplate(report *RunReport, templatePath string) string {
	fallback := func() string {
		md, err := r.RunMarkdown(report)
		if err != nil {
			return report.Message
		}
		return md
	}

	if templatePath == "" {
		return fallback()
	}

	tmpl, err := r.loadTemplate(templatePath)
	if err != nil {
		if r.logger != nil {
			r.logger.Warnf("Failed to load report template %s: %v", templatePath, err)
		}
		return fallback()
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, report); err != nil {
		if r.logger != nil {
			r.logger.Warnf("Failed to execute report template %s: %v", templatePath, err)
		}
		return fallback()
	}

	return buf.String()
}

// RunMarkdown generates a markdown report for a task run
func (r *Reporter) RunMarkdown(report *RunReport) (string, error) {
	tmpl := `# Task Run: {{.TaskName}}

**Generated**: {{.GeneratedAt.Format "2006-01-02 15:04:05"}}
**Outcome**: {{if .Success}}success{{else}}failed{{end}}{{if .Message}} ({{.Message}}){{end}}

## Summary

| Metric | Value |
|--------|-------|
| Items processed | {{.Summary.ProcessedItems}} |
| Succeeded | {{.Summary.SucceededItems}} |
| Failed | {{.Summary.FailedItems}} |
{{if gt .Summary.MatchedCount 0}}| Matched | {{.Summary.MatchedCount}} |
{{end}}{{if gt .Summary.MismatchedCount 0}}| Mismatched | {{.Summary.MismatchedCount}} |
{{end}}| Total amount | {{amount .Summary.TotalAmount}} |
| Tokens used | {{.Summary.TotalTokens}} |
{{if .WrittenTo}}| Written to | {{.WrittenTo}} |
{{end}}
{{if .Errors}}
## Errors

{{range .Errors}}- **{{.ItemID}}**: {{.Message}}
{{end}}{{end}}
{{if .Records}}
## Records

` + "```json\n{{json .Records}}\n```" + `
{{end}}
`

	t, err := template.New("run").Funcs(templateFuncs()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, report); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// CheckMarkdown generates a markdown report for an invoice check run
func (r *Reporter) CheckMarkdown(report *CheckReport) (string, error) {
	var sb strings.Builder

	sb.WriteString("# Invoice Check Report\n\n")
	sb.WriteString(fmt.Sprintf("**Generated**: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	sb.WriteString("## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- **Files checked**: %d\n", report.Summary.TotalFiles))
	sb.WriteString(fmt.Sprintf("- **Checks passed**: %d\n", report.Summary.PassedChecks))
	sb.WriteString(fmt.Sprintf("- **Checks failed**: %d\n", report.Summary.FailedChecks))

	if len(report.Summary.BySeverity) > 0 {
		var severities []string
		for sev := range report.Summary.BySeverity {
			severities = append(severities, sev)
		}
		sort.Strings(severities)
		sb.WriteString("\n### Failures by severity\n\n")
		for _, sev := range severities {
			sb.WriteString(fmt.Sprintf("- **%s**: %d\n", sev, report.Summary.BySeverity[sev]))
		}
	}

	sb.WriteString("\n---\n\n")

	for _, file := range report.Files {
		sb.WriteString(fmt.Sprintf("## %s\n\n", file.FileName))

		if file.Error != "" {
			sb.WriteString(fmt.Sprintf("**Error**: %s\n\n---\n\n", file.Error))
			continue
		}

		for _, check := range file.Checks {
			status := "pass"
			if !check.Passed {
				status = "FAIL"
			}
			sb.WriteString(fmt.Sprintf("### %s — %s (%s)\n\n", check.RuleName, status, check.Severity))
			sb.WriteString(fmt.Sprintf("%s\n", check.Message))
			if check.Details != "" {
				sb.WriteString(fmt.Sprintf("\n%s\n", check.Details))
			}
			sb.WriteString("\n")
		}

		sb.WriteString("---\n\n")
	}

	return sb.String(), nil
}

// GenerateJSON marshals a report to indented JSON
func (r *Reporter) GenerateJSON(report interface{}) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	return string(data), nil
}

// SaveRunReport saves a task run report to a file
func (r *Reporter) SaveRunReport(report *RunReport, outputPath, format string) error {
	var content string
	var err error

	switch format {
	case "json":
		content, err = r.GenerateJSON(report)
	default:
		content, err = r.RunMarkdown(report)
	}
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	return r.writeReport(outputPath, content)
}

// SaveCheckReport saves an invoice check report to a file
func (r *Reporter) SaveCheckReport(report *CheckReport, outputPath, format string) error {
	var content string
	var err error

	switch format {
	case "json":
		content, err = r.GenerateJSON(report)
	default:
		content, err = r.CheckMarkdown(report)
	}
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	return r.writeReport(outputPath, content)
}

func (r *Reporter) writeReport(outputPath, content string) error {
	if err := global.EnsureDir(filepath.Dir(outputPath)); err != nil {
		return err
	}

	if err := os.WriteFile(outputPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if r.logger != nil {
		r.logger.Infof("Report saved to %s (%d bytes)", outputPath, len(content))
	}

	return nil
}

// GenerateFilename generates a timestamped report filename
func GenerateFilename(prefix string, format string) string {
	timestamp := time.Now().Format("2006-01-02-150405")
	ext := "md"
	if format == "json" {
		ext = "json"
	}

	if prefix == "" {
		prefix = "report"
	}

	return fmt.Sprintf("%s-%s.%s", prefix, timestamp, ext)
}
