/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package suggest proposes check rules from a sample document and rewrites
// existing rule prompts, with the same schema validation and JSON recovery
// the engine applies to task responses.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ClearClose/Vouch/engine"
	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
	"github.com/xeipuuv/gojsonschema"
)

// suggestionSchema constrains proposed rules to the rule store's own limits
const suggestionSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["name", "category", "prompt"],
		"properties": {
			"name": {"type": "string", "minLength": 3},
			"category": {"type": "string", "enum": ["date", "amount", "approval", "format", "other"]},
			"prompt": {"type": "string", "minLength": 10},
			"severity": {"type": "string", "enum": ["info", "warning", "error"]},
			"rationale": {"type": "string"}
		}
	}
}`

// enhancementSchema constrains the rewritten prompt
const enhancementSchema = `{
	"type": "object",
	"required": ["enhanced_prompt"],
	"properties": {
		"enhanced_prompt": {"type": "string", "minLength": 10},
		"explanation": {"type": "string"}
	}
}`

// Suggestion is one proposed rule
type Suggestion struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	Prompt    string `json:"prompt"`
	Severity  string `json:"severity,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// Enhancement is a rewritten rule prompt
type Enhancement struct {
	OriginalPrompt string `json:"original_prompt"`
	EnhancedPrompt string `json:"enhanced_prompt"`
	Explanation    string `json:"explanation,omitempty"`
}

// Service generates and enhances rules via the LLM
type Service struct {
	logger        *logging.Logger
	completer     engine.Completer
	limiter       *engine.RateLimiter
	truncateChars int
}

// NewService creates a suggestion service
func NewService(completer engine.Completer, limiter *engine.RateLimiter, truncateChars int, logger *logging.Logger) *Service {
	if truncateChars < 1 {
		truncateChars = global.DefaultTruncateChars
	}
	return &Service{
		logger:        logger,
		completer:     completer,
		limiter:       limiter,
		truncateChars: truncateChars,
	}
}

// SuggestRules analyzes a sample document and proposes up to maxRules
// validated check rules
func (s *Service) SuggestRules(ctx context.Context, llmID, sampleText string, maxRules int) ([]Suggestion, error) {
	if strings.TrimSpace(sampleText) == "" {
		return nil, fmt.Errorf("sample text cannot be empty")
	}
	if maxRules < 1 {
		maxRules = 5
	}

	if len(sampleText) > s.truncateChars {
		sampleText = sampleText[:s.truncateChars] + "\n[truncated]"
	}

	var b strings.Builder
	b.WriteString("You are designing automated check rules for accounting evidence review.\n")
	b.WriteString(fmt.Sprintf("Analyze the sample document below and propose up to %d check rules ", maxRules))
	b.WriteString("that would catch realistic problems in documents of this kind.\n\n")
	b.WriteString("Sample document:\n")
	b.WriteString(sampleText)
	b.WriteString("\n\nRespond with ONLY a JSON array of rule objects:\n")
	b.WriteString(`[
  {
    "name": "short rule name (3+ chars)",
    "category": "date" | "amount" | "approval" | "format" | "other",
    "prompt": "the full check instruction an auditor would follow (10+ chars)",
    "severity": "info" | "warning" | "error",
    "rationale": "why this rule matters for this document"
  }
]`)

	s.limiter.Wait()

	text, _, err := s.completer.Complete(ctx, llmID, b.String())
	if err != nil {
		return nil, fmt.Errorf("suggestion call failed: %w", err)
	}

	var suggestions []Suggestion
	if err := s.parseValidated(text, suggestionSchema, &suggestions); err != nil {
		return nil, err
	}

	if len(suggestions) > maxRules {
		suggestions = suggestions[:maxRules]
	}
	for i := range suggestions {
		if suggestions[i].Severity == "" {
			suggestions[i].Severity = global.SeverityWarning
		}
	}

	s.logger.Infof("Suggested %d rule(s)", len(suggestions))
	return suggestions, nil
}

// EnhanceRule rewrites a rule's prompt to be more precise and checkable
func (s *Service) EnhanceRule(ctx context.Context, llmID string, rule *global.Rule) (*Enhancement, error) {
	var b strings.Builder
	b.WriteString("Improve the following accounting check rule so an automated reviewer can ")
	b.WriteString("apply it unambiguously. Make the pass and fail conditions explicit. Keep the ")
	b.WriteString("rule's intent; do not add new checks.\n\n")
	b.WriteString(fmt.Sprintf("Rule name: %s\nCategory: %s\nCurrent prompt:\n%s\n\n", rule.Name, rule.Category, rule.Prompt))
	b.WriteString("Respond with ONLY a JSON object:\n")
	b.WriteString(`{
  "enhanced_prompt": "the improved check instruction (10+ chars)",
  "explanation": "what changed and why"
}`)

	s.limiter.Wait()

	text, _, err := s.completer.Complete(ctx, llmID, b.String())
	if err != nil {
		return nil, fmt.Errorf("enhancement call failed: %w", err)
	}

	var parsed struct {
		EnhancedPrompt string `json:"enhanced_prompt"`
		Explanation    string `json:"explanation"`
	}
	if err := s.parseValidated(text, enhancementSchema, &parsed); err != nil {
		return nil, err
	}

	return &Enhancement{
		OriginalPrompt: rule.Prompt,
		EnhancedPrompt: parsed.EnhancedPrompt,
		Explanation:    parsed.Explanation,
	}, nil
}

// parseValidated validates raw LLM output against a schema, recovering
// embedded JSON on the first failure, and unmarshals into out
func (s *Service) parseValidated(raw, schemaJSON string, out interface{}) error {
	text := strings.TrimSpace(raw)

	if err := s.validateOnce(text, schemaJSON, out); err == nil {
		return nil
	}

	recovered := engine.ExtractJSON(raw)
	if err := s.validateOnce(recovered, schemaJSON, out); err != nil {
		return fmt.Errorf("response failed validation: %w", err)
	}
	s.logger.Debugf("Recovered embedded JSON from suggestion response")
	return nil
}

func (s *Service) validateOnce(text, schemaJSON string, out interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewStringLoader(text),
	)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return json.Unmarshal([]byte(text), out)
}
