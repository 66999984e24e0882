/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package checker applies natural-language check rules to uploaded invoices:
// one work item per invoice, rules applied in sequence within the item's
// worker, results conforming to the CheckResult contract.
package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ClearClose/Vouch/engine"
	"github.com/ClearClose/Vouch/extract"
	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

// Service runs invoice checks
type Service struct {
	logger        *logging.Logger
	completer     engine.Completer
	dispatcher    *engine.Dispatcher
	validator     *engine.Validator
	limiter       *engine.RateLimiter
	extractor     *extract.Service
	truncateChars int
}

// Request describes one invoice check run
type Request struct {
	Files      []string      // invoice file paths, one work item each
	Rules      []global.Rule // rules applied to every invoice, in order
	LLMID      string
	MaxWorkers int
	Progress   engine.ProgressFunc
}

// Result is the outcome of one check run. Per-invoice reports keep the
// submission order of Files.
type Result struct {
	Success      bool                        `json:"success"`
	Reports      []global.InvoiceCheckReport `json:"reports"`
	TotalFiles   int                         `json:"total_files"`
	PassedChecks int                         `json:"passed_checks"`
	FailedChecks int                         `json:"failed_checks"`
	Errors       []engine.ItemError          `json:"errors,omitempty"`
	RawResponses map[string]string           `json:"raw_responses,omitempty"`
	ElapsedSec   float64                     `json:"elapsed_seconds"`
}

// NewService creates a checker wired to the engine's shared pipeline pieces
func NewService(e *engine.Engine, completer engine.Completer, extractor *extract.Service, truncateChars int, logger *logging.Logger) *Service {
	if truncateChars < 1 {
		truncateChars = global.DefaultTruncateChars
	}
	return &Service{
		logger:        logger,
		completer:     completer,
		dispatcher:    e.Dispatcher(),
		validator:     e.Validator(),
		limiter:       e.Limiter(),
		extractor:     extractor,
		truncateChars: truncateChars,
	}
}

// Check extracts each invoice and applies every rule to it under the worker
// pool. One invoice's failure never affects the others; a failed rule call
// degrades to an error-severity CheckResult for that rule only.
func (s *Service) Check(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if len(req.Files) == 0 {
		return nil, fmt.Errorf("no invoice files provided")
	}
	if len(req.Rules) == 0 {
		return nil, fmt.Errorf("no rules selected")
	}

	// Extract upfront so workers only do LLM work. Extraction failures
	// become per-item failures, not run failures.
	// Item ids must be unique within the batch: duplicate basenames get an
	// ordinal suffix so each file keeps its own result.
	items := make([]engine.WorkItem, 0, len(req.Files))
	extractErrs := make(map[string]string)
	seen := make(map[string]bool, len(req.Files))
	for _, file := range req.Files {
		base := filepath.Base(file)
		name := base
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s (%d)", base, n)
		}
		seen[name] = true
		doc, err := s.extractor.ExtractFile(file)
		if err != nil {
			extractErrs[name] = err.Error()
			items = append(items, engine.WorkItem{ItemID: name})
			continue
		}
		items = append(items, engine.WorkItem{ItemID: name, Payload: doc.Content})
	}

	s.logger.Infof("Checking %d invoice(s) against %d rule(s)", len(items), len(req.Rules))

	results := s.dispatcher.Dispatch(ctx, items, func(ctx context.Context, item engine.WorkItem) engine.TaskResult {
		if msg, failed := extractErrs[item.ItemID]; failed {
			return engine.TaskResult{
				State:  engine.ResultFailed,
				ItemID: item.ItemID,
				Error:  fmt.Sprintf("extraction failed: %s", msg),
			}
		}
		return s.checkOne(ctx, item, req)
	}, engine.DispatchOptions{
		MaxWorkers: req.MaxWorkers,
		Progress:   req.Progress,
	})

	// Index by item id, then report in submission order
	byID := make(map[string]*engine.TaskResult, len(results))
	for i := range results {
		byID[results[i].ItemID] = &results[i]
	}

	res := &Result{
		Success:      true,
		TotalFiles:   len(items),
		RawResponses: make(map[string]string),
	}

	for _, item := range items {
		tr, ok := byID[item.ItemID]
		if !ok {
			continue
		}

		report := global.InvoiceCheckReport{
			FileName:  tr.ItemID,
			CheckedAt: time.Now(),
		}

		if tr.State == engine.ResultFailed {
			report.Error = tr.Error
			res.Errors = append(res.Errors, engine.ItemError{ItemID: tr.ItemID, Message: tr.Error})
		} else {
			for _, rec := range tr.Records {
				check := recordToCheck(rec)
				report.Checks = append(report.Checks, check)
				if check.Passed {
					res.PassedChecks++
				} else {
					res.FailedChecks++
				}
			}
		}
		if tr.Raw != "" {
			res.RawResponses[tr.ItemID] = tr.Raw
		}

		res.Reports = append(res.Reports, report)
	}

	res.ElapsedSec = time.Since(start).Seconds()
	return res, nil
}

// checkOne applies every rule to one invoice, in order
func (s *Service) checkOne(ctx context.Context, item engine.WorkItem, req *Request) engine.TaskResult {
	var (
		records []map[string]interface{}
		raws    []string
		tokens  int
	)

	for _, rule := range req.Rules {
		s.limiter.Wait()

		prompt := s.buildPrompt(rule, item)

		text, used, err := s.completer.Complete(ctx, req.LLMID, prompt)
		tokens += used
		if err != nil {
			// One rule's call failure degrades that rule only
			records = append(records, checkToRecord(global.CheckResult{
				RuleName: rule.Name,
				Severity: global.SeverityError,
				Message:  fmt.Sprintf("Rule could not be evaluated: %v", err),
				Passed:   false,
			}))
			continue
		}
		raws = append(raws, text)

		validated := s.validator.ValidateCheckResult(text, rule.Name)
		records = append(records, checkToRecord(validated.Result))
	}

	return engine.TaskResult{
		State:   engine.ResultSuccess,
		ItemID:  item.ItemID,
		Records: records,
		Raw:     strings.Join(raws, "\n---\n"),
		Tokens:  tokens,
	}
}

// buildPrompt renders one rule check prompt for one invoice
func (s *Service) buildPrompt(rule global.Rule, item engine.WorkItem) string {
	var b strings.Builder

	b.WriteString("Apply the following check rule to the invoice below.\n\n")
	b.WriteString(fmt.Sprintf("Rule (%s): %s\n%s\n\n", rule.Category, rule.Name, rule.Prompt))
	b.WriteString("Invoice content:\n")

	payload := item.Payload
	if len(payload) > s.truncateChars {
		// Back off to a rune boundary so the cut never splits a character
		cut := s.truncateChars
		for cut > 0 && !utf8.RuneStart(payload[cut]) {
			cut--
		}
		payload = payload[:cut] + "\n[truncated]"
	}
	b.WriteString(payload)

	b.WriteString("\n\nRespond with ONLY a JSON object of this exact shape:\n")
	b.WriteString(fmt.Sprintf(`{
  "rule_name": %q,
  "severity": "info" | "warning" | "error",
  "message": "one-sentence finding",
  "details": "supporting detail, optional",
  "passed": true | false
}`, rule.Name))
	b.WriteString("\n\nA severity of \"error\" means the check failed: in that case passed must be false.")

	return b.String()
}

// checkToRecord converts a CheckResult to the dispatcher's record shape
func checkToRecord(check global.CheckResult) map[string]interface{} {
	data, err := json.Marshal(check)
	if err != nil {
		return map[string]interface{}{"rule_name": check.RuleName, "passed": check.Passed}
	}
	var rec map[string]interface{}
	if err := json.Unmarshal(data, &rec); err != nil {
		return map[string]interface{}{"rule_name": check.RuleName, "passed": check.Passed}
	}
	return rec
}

// recordToCheck converts a record back to a CheckResult
func recordToCheck(rec map[string]interface{}) global.CheckResult {
	check := global.CheckResult{}
	if v, ok := rec["rule_name"].(string); ok {
		check.RuleName = v
	}
	if v, ok := rec["severity"].(string); ok {
		check.Severity = v
	}
	if v, ok := rec["message"].(string); ok {
		check.Message = v
	}
	if v, ok := rec["details"].(string); ok {
		check.Details = v
	}
	if v, ok := rec["passed"].(bool); ok {
		check.Passed = v
	}
	return check
}
