/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package suggest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ClearClose/Vouch/engine"
	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

type stubCompleter struct {
	response string
	err      error
	prompts  []string
}

func (s *stubCompleter) Complete(_ context.Context, _ string, prompt string) (string, int, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", 0, s.err
	}
	return s.response, 10, nil
}

func newTestService(t *testing.T, completer engine.Completer) *Service {
	t.Helper()
	logger, err := logging.New(filepath.Join(t.TempDir(), "test.log"))
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return NewService(completer, engine.NewRateLimiter(1000, 60), 10000, logger)
}

const validSuggestions = `[
  {"name": "Date present", "category": "date", "prompt": "Verify the invoice carries an issue date.", "severity": "error", "rationale": "Dates anchor the period."},
  {"name": "Totals add up", "category": "amount", "prompt": "Verify line items sum to the stated total."},
  {"name": "Approval noted", "category": "approval", "prompt": "Verify an approver is named on the document."}
]`

func TestSuggestRules(t *testing.T) {
	completer := &stubCompleter{response: validSuggestions}
	s := newTestService(t, completer)

	suggestions, err := s.SuggestRules(context.Background(), "test-llm", "Invoice 001, total $500, dated 2024-03-01", 5)
	if err != nil {
		t.Fatalf("SuggestRules failed: %v", err)
	}

	if len(suggestions) != 3 {
		t.Fatalf("Expected 3 suggestions, got %d", len(suggestions))
	}
	if suggestions[0].Name != "Date present" || suggestions[0].Severity != global.SeverityError {
		t.Errorf("Unexpected first suggestion: %+v", suggestions[0])
	}
	// Missing severity defaults to warning
	if suggestions[1].Severity != global.SeverityWarning {
		t.Errorf("Expected default warning severity, got %s", suggestions[1].Severity)
	}

	if len(completer.prompts) != 1 || !strings.Contains(completer.prompts[0], "Invoice 001") {
		t.Error("Expected sample text embedded in the prompt")
	}
}

func TestSuggestRulesCapped(t *testing.T) {
	s := newTestService(t, &stubCompleter{response: validSuggestions})

	suggestions, err := s.SuggestRules(context.Background(), "test-llm", "sample invoice text", 2)
	if err != nil {
		t.Fatalf("SuggestRules failed: %v", err)
	}
	if len(suggestions) != 2 {
		t.Errorf("Expected suggestions capped to 2, got %d", len(suggestions))
	}
}

func TestSuggestRulesRecoversFencedJSON(t *testing.T) {
	fenced := "Here are the rules:\n```json\n" + validSuggestions + "\n```\nLet me know if you need more."
	s := newTestService(t, &stubCompleter{response: fenced})

	suggestions, err := s.SuggestRules(context.Background(), "test-llm", "sample invoice text", 5)
	if err != nil {
		t.Fatalf("SuggestRules failed on fenced response: %v", err)
	}
	if len(suggestions) != 3 {
		t.Errorf("Expected 3 recovered suggestions, got %d", len(suggestions))
	}
}

func TestSuggestRulesRejectsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"bad category", `[{"name": "Rule", "category": "fiscal", "prompt": "A long enough prompt."}]`},
		{"short prompt", `[{"name": "Rule", "category": "date", "prompt": "short"}]`},
		{"empty array", `[]`},
		{"not json", "I could not find any rules to suggest."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, &stubCompleter{response: tt.response})
			if _, err := s.SuggestRules(context.Background(), "test-llm", "sample invoice text", 5); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestSuggestRulesInputValidation(t *testing.T) {
	s := newTestService(t, &stubCompleter{response: validSuggestions})

	if _, err := s.SuggestRules(context.Background(), "test-llm", "   ", 5); err == nil {
		t.Error("Expected error for empty sample text")
	}
}

func TestSuggestRulesCallFailure(t *testing.T) {
	s := newTestService(t, &stubCompleter{err: fmt.Errorf("llm unavailable")})

	if _, err := s.SuggestRules(context.Background(), "test-llm", "sample invoice text", 5); err == nil {
		t.Error("Expected error when the LLM call fails")
	}
}

func TestEnhanceRule(t *testing.T) {
	response := `{"enhanced_prompt": "Verify the invoice date falls within the reporting period; fail if missing or outside it.", "explanation": "Made the fail condition explicit."}`
	s := newTestService(t, &stubCompleter{response: response})

	rule := &global.Rule{
		Name:     "Date check",
		Category: "date",
		Prompt:   "Check the invoice date.",
	}

	enhancement, err := s.EnhanceRule(context.Background(), "test-llm", rule)
	if err != nil {
		t.Fatalf("EnhanceRule failed: %v", err)
	}
	if enhancement.OriginalPrompt != "Check the invoice date." {
		t.Errorf("Original prompt not preserved: %q", enhancement.OriginalPrompt)
	}
	if !strings.Contains(enhancement.EnhancedPrompt, "reporting period") {
		t.Errorf("Unexpected enhanced prompt: %q", enhancement.EnhancedPrompt)
	}
	if enhancement.Explanation == "" {
		t.Error("Expected explanation carried through")
	}
}

func TestEnhanceRuleRejectsShortPrompt(t *testing.T) {
	s := newTestService(t, &stubCompleter{response: `{"enhanced_prompt": "short"}`})

	rule := &global.Rule{Name: "Date check", Category: "date", Prompt: "Check the invoice date."}
	if _, err := s.EnhanceRule(context.Background(), "test-llm", rule); err == nil {
		t.Error("Expected validation error for short enhanced prompt")
	}
}
