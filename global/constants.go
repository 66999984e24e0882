/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import "fmt"

//goland:noinspection GoCommentStart,GoUnusedConst
const (
	// Configuration constants
	ConfigEnvVar          = "VOUCH_CONFIG"
	DefaultBaseDir        = "~/.vouch"
	DefaultConfigFileName = "config.json"
	DefaultRulesFileName  = "rules.json"
	DefaultTasksFileName  = "task_configs.json"
	DefaultWorkbooksDir   = "workbooks"
	DefaultReportsDir     = "reports"
	DefaultEvidenceDir    = "evidence"

	// Severity levels for check results
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"

	// Record status values for accounting task results
	RecordStatusDone   = "done"
	RecordStatusError  = "error"
	RecordStatusReview = "needs_review"

	// Match status markers used by reconciliation tasks
	MatchStatusMatched    = "matched"
	MatchStatusMismatched = "mismatched"
	MatchStatusReview     = "needs_review"

	// ReservedRowNumberKey is the output column key auto-populated by the
	// workbook writer, never requested from the LLM.
	ReservedRowNumberKey = "row_number"

	// Rule categories
	RuleCategoryDate     = "date"
	RuleCategoryAmount   = "amount"
	RuleCategoryApproval = "approval"
	RuleCategoryFormat   = "format"
	RuleCategoryOther    = "other"

	// MCP Tool Names - Rules
	ToolRuleList       = "rule_list"
	ToolRuleGet        = "rule_get"
	ToolRuleCreate     = "rule_create"
	ToolRuleUpdate     = "rule_update"
	ToolRuleDelete     = "rule_delete"
	ToolRuleSearch     = "rule_search"
	ToolRuleCategories = "rule_categories"
	ToolRuleExport     = "rule_export"
	ToolRuleImport     = "rule_import"

	// MCP Tool Names - Task configurations
	ToolTaskList   = "task_list"
	ToolTaskGet    = "task_get"
	ToolTaskCreate = "task_create"

	// MCP Tool Names - Execution
	ToolInvoiceCheck = "invoice_check"
	ToolTaskRun      = "task_run"

	// MCP Tool Names - Documents and evidence
	ToolFileExtract   = "file_extract"
	ToolFolderProcess = "folder_process"

	// MCP Tool Names - Workbooks
	ToolWorkbookLoad   = "workbook_load"
	ToolWorkbookExport = "workbook_export"

	// MCP Tool Names - Rule suggestion
	ToolSuggestRules = "suggest_rules"
	ToolEnhanceRule  = "enhance_rule"

	// MCP Tool Names - Reports
	ToolReportGenerate = "report_generate"

	// MCP Tool Names - LLM
	ToolLLMList = "llm_list"
	ToolLLMTest = "llm_test"

	// MCP Tool Names - System
	ToolHealth = "health"

	// Log level constants
	LogLevelDebug = "DEBUG"
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
	LogLevelFatal = "FATAL"

	// Response format constants for LLM dispatch
	ResponseFormatText = "text"
	ResponseFormatJSON = "json"

	// LLM timeout constraints (seconds)
	DefaultTimeout = 300
	MinTimeout     = 60
	MaxTimeout     = 900

	// Worker pool bounds for batch execution
	DefaultMaxWorkers = 3
	MaxWorkersLimit   = 12

	// Rate limiter defaults for outbound LLM requests
	DefaultRateLimitRequests = 10
	DefaultRateLimitPeriod   = 60

	// DefaultTruncateChars bounds how much of a single extracted document
	// is embedded in a prompt before the "[truncated]" marker is appended.
	DefaultTruncateChars = 5000

	// MaxEvidenceZipBytes caps the size of an uploaded evidence archive.
	MaxEvidenceZipBytes = 100 * 1024 * 1024

	// Rule field constraints
	MinRuleNameLength   = 3
	MinRulePromptLength = 10
)

// ValidCategories returns the accepted rule categories.
func ValidCategories() []string {
	return []string{
		RuleCategoryDate,
		RuleCategoryAmount,
		RuleCategoryApproval,
		RuleCategoryFormat,
		RuleCategoryOther,
	}
}

// IsValidCategory reports whether category is one of the accepted values.
func IsValidCategory(category string) bool {
	for _, c := range ValidCategories() {
		if c == category {
			return true
		}
	}
	return false
}

// IsValidSeverity reports whether severity is one of info/warning/error.
func IsValidSeverity(severity string) bool {
	return severity == SeverityInfo || severity == SeverityWarning || severity == SeverityError
}

// ValidateTimeout validates and normalizes an LLM timeout value in seconds.
// A zero value returns the default.
func ValidateTimeout(timeout int) (int, error) {
	if timeout == 0 {
		return DefaultTimeout, nil
	}
	if timeout < MinTimeout {
		return 0, fmt.Errorf("timeout must be at least %d seconds", MinTimeout)
	}
	if timeout > MaxTimeout {
		return 0, fmt.Errorf("timeout must be at most %d seconds", MaxTimeout)
	}
	return timeout, nil
}

// ValidateMaxWorkers validates and normalizes a worker-pool size.
// A zero value returns the default; values above the limit are rejected.
func ValidateMaxWorkers(workers int) (int, error) {
	if workers == 0 {
		return DefaultMaxWorkers, nil
	}
	if workers < 1 {
		return 0, fmt.Errorf("max_workers must be at least 1")
	}
	if workers > MaxWorkersLimit {
		return 0, fmt.Errorf("max_workers must be at most %d", MaxWorkersLimit)
	}
	return workers, nil
}
