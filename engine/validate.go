/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
	"github.com/xeipuuv/gojsonschema"
)

// Validity discriminates validator outcomes. Callers branch on this value;
// the validator never returns an error past its boundary.
type Validity int

//goland:noinspection GoUnusedConst
const (
	// Valid - the response passed schema validation (possibly after recovery)
	Valid Validity = iota
	// Degraded - validation and recovery both failed; a minimal error record
	// carrying the original failure was substituted
	Degraded
)

// taskResponseSchema is the envelope an accounting-task LLM call must return
const taskResponseSchema = `{
	"type": "object",
	"required": ["item_id", "records"],
	"properties": {
		"item_id": {"type": "string"},
		"records": {"type": "array", "items": {"type": "object"}},
		"notes": {"type": "string"}
	}
}`

// checkResultSchema is the contract for a single invoice-check rule result
const checkResultSchema = `{
	"type": "object",
	"required": ["severity", "message", "passed"],
	"properties": {
		"rule_name": {"type": "string"},
		"severity": {"type": "string", "enum": ["info", "warning", "error"]},
		"message": {"type": "string", "minLength": 1},
		"details": {"type": "string"},
		"passed": {"type": "boolean"}
	}
}`

// TaskResponse is the validated (or degraded) outcome of one task LLM call
type TaskResponse struct {
	Validity Validity
	ItemID   string
	Records  []map[string]interface{}
	Note     string // carries the original error for degraded responses
}

// CheckValidation is the validated (or degraded) outcome of one rule check
type CheckValidation struct {
	Validity Validity
	Result   global.CheckResult
}

// Validator validates raw LLM responses against the task-variant schemas,
// recovering embedded JSON from prose or code fences before degrading.
// Safe for use from concurrent workers.
type Validator struct {
	logger      *logging.Logger
	mu          sync.Mutex
	schemaCache map[string]*gojsonschema.Schema
}

// NewValidator creates a Validator
func NewValidator(logger *logging.Logger) *Validator {
	return &Validator{
		logger:      logger,
		schemaCache: make(map[string]*gojsonschema.Schema),
	}
}

// ValidateTaskResponse parses and validates one accounting-task response.
// itemID fills a missing item_id during recovery. The returned response is
// always usable: a Degraded response carries an empty record list, a status
// note with the original error, and the caller-supplied item id.
func (v *Validator) ValidateTaskResponse(raw string, itemID string) *TaskResponse {
	envelope, err := v.parseTaskEnvelope(raw, itemID)
	if err == nil {
		return envelope
	}

	// Recovery: pull a JSON document out of prose/fences and retry
	recovered := ExtractJSON(raw)
	if recovered != raw {
		if envelope, rerr := v.parseTaskEnvelope(recovered, itemID); rerr == nil {
			v.logger.Debugf("Recovered embedded JSON for item %s", itemID)
			return envelope
		}
	}

	v.logger.Warnf("Validation failed for item %s, degrading: %v", itemID, err)

	return &TaskResponse{
		Validity: Degraded,
		ItemID:   itemID,
		Records:  nil,
		Note:     err.Error(),
	}
}

// parseTaskEnvelope parses text as a task response envelope. A bare array is
// accepted as the record list with the item id supplied by the caller.
func (v *Validator) parseTaskEnvelope(text string, itemID string) (*TaskResponse, error) {
	trimmed := strings.TrimSpace(text)

	// Bare record arrays are common enough to accept directly
	if strings.HasPrefix(trimmed, "[") {
		var records []map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, fmt.Errorf("failed to parse record array: %w", err)
		}
		return &TaskResponse{Validity: Valid, ItemID: itemID, Records: records}, nil
	}

	result, err := v.validate([]byte(trimmed), taskResponseSchema)
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		// Tolerate a missing item_id if everything else conforms - fill it
		// from caller context per the recovery contract.
		if missingOnly(result, "item_id") {
			var envelope struct {
				Records []map[string]interface{} `json:"records"`
				Notes   string                   `json:"notes"`
			}
			if jerr := json.Unmarshal([]byte(trimmed), &envelope); jerr == nil {
				return &TaskResponse{Validity: Valid, ItemID: itemID, Records: envelope.Records, Note: envelope.Notes}, nil
			}
		}
		return nil, fmt.Errorf("schema validation failed: %s", joinValidationErrors(result))
	}

	var envelope struct {
		ItemID  string                   `json:"item_id"`
		Records []map[string]interface{} `json:"records"`
		Notes   string                   `json:"notes"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if envelope.ItemID == "" {
		envelope.ItemID = itemID
	}

	return &TaskResponse{
		Validity: Valid,
		ItemID:   envelope.ItemID,
		Records:  envelope.Records,
		Note:     envelope.Notes,
	}, nil
}

// ValidateCheckResult parses and validates one invoice-check rule result.
// ruleName fills a missing rule_name. A record claiming severity "error"
// while passed is true is rejected and degraded, never accepted as valid.
func (v *Validator) ValidateCheckResult(raw string, ruleName string) *CheckValidation {
	check, err := v.parseCheckResult(raw, ruleName)
	if err == nil {
		return check
	}

	recovered := ExtractJSON(raw)
	if recovered != raw {
		if check, rerr := v.parseCheckResult(recovered, ruleName); rerr == nil {
			v.logger.Debugf("Recovered embedded JSON for rule %s", ruleName)
			return check
		}
	}

	v.logger.Warnf("Check validation failed for rule %s, degrading: %v", ruleName, err)

	return &CheckValidation{
		Validity: Degraded,
		Result: global.CheckResult{
			RuleName: ruleName,
			Severity: global.SeverityError,
			Message:  fmt.Sprintf("Response validation failed: %v", err),
			Passed:   false,
		},
	}
}

func (v *Validator) parseCheckResult(text string, ruleName string) (*CheckValidation, error) {
	trimmed := strings.TrimSpace(text)

	result, err := v.validate([]byte(trimmed), checkResultSchema)
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		return nil, fmt.Errorf("schema validation failed: %s", joinValidationErrors(result))
	}

	var check global.CheckResult
	if err := json.Unmarshal([]byte(trimmed), &check); err != nil {
		return nil, fmt.Errorf("failed to parse check result: %w", err)
	}
	if check.RuleName == "" {
		check.RuleName = ruleName
	}

	// Consistency rule: an error-severity finding cannot claim to pass
	if check.Severity == global.SeverityError && check.Passed {
		return nil, fmt.Errorf("inconsistent result: severity is %q but passed is true", check.Severity)
	}

	return &CheckValidation{Validity: Valid, Result: check}, nil
}

// validate runs a gojsonschema validation with a per-schema compiled cache
func (v *Validator) validate(data []byte, schemaJSON string) (*gojsonschema.Result, error) {
	v.mu.Lock()
	schema, ok := v.schemaCache[schemaJSON]
	if !ok {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
		if err != nil {
			v.mu.Unlock()
			return nil, fmt.Errorf("failed to parse schema: %w", err)
		}
		v.schemaCache[schemaJSON] = schema
	}
	v.mu.Unlock()

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	return result, nil
}

// missingOnly reports whether every validation error is a missing-field error
// for the named field
func missingOnly(result *gojsonschema.Result, field string) bool {
	if result.Valid() {
		return false
	}
	for _, desc := range result.Errors() {
		msg := desc.String()
		if !strings.Contains(msg, field+" is required") {
			return false
		}
	}
	return true
}

// joinValidationErrors formats all validation errors as one message
func joinValidationErrors(result *gojsonschema.Result) string {
	var msgs []string
	for _, desc := range result.Errors() {
		msgs = append(msgs, formatValidationError(desc.String()))
	}
	return strings.Join(msgs, "; ")
}

// formatValidationError converts technical validation errors to user-friendly messages
func formatValidationError(rawError string) string {
	// Handle "is required" errors
	if strings.Contains(rawError, "is required") {
		parts := strings.SplitN(rawError, ": ", 2)
		if len(parts) == 2 {
			fieldName := strings.TrimSuffix(parts[1], " is required")
			if strings.HasPrefix(parts[0], "(root).") {
				context := strings.TrimPrefix(parts[0], "(root).")
				return fmt.Sprintf("Missing required field: %s (in %s)", fieldName, context)
			}
			return fmt.Sprintf("Missing required field: %s", fieldName)
		}
	}

	// Handle "Invalid type" errors
	if strings.Contains(rawError, "Invalid type") {
		parts := strings.SplitN(rawError, ": Invalid type. ", 2)
		if len(parts) == 2 {
			field := parts[0]
			if field == "(root)" {
				field = "root object"
			}
			typeInfo := strings.ReplaceAll(parts[1], "Expected: ", "expected ")
			typeInfo = strings.ReplaceAll(typeInfo, ", given: ", ", got ")
			return fmt.Sprintf("Field '%s': %s", field, typeInfo)
		}
	}

	// Handle enum errors
	if strings.Contains(rawError, "must be one of the following") {
		parts := strings.SplitN(rawError, ": ", 2)
		if len(parts) == 2 {
			field := parts[0]
			if field == "(root)" {
				field = "root value"
			}
			return fmt.Sprintf("Field '%s': %s", field, parts[1])
		}
	}

	// Default: clean up (root) prefix at minimum
	if strings.HasPrefix(rawError, "(root): ") {
		return strings.TrimPrefix(rawError, "(root): ")
	}
	if strings.HasPrefix(rawError, "(root).") {
		return strings.TrimPrefix(rawError, "(root).")
	}

	return rawError
}
