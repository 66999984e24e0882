/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package engine

import (
	"encoding/json"
	"strings"
)

// ExtractJSON extracts JSON from a response that may be wrapped in various ways:
// 1. LLM client wrapper: {"text": "...actual content..."}
// 2. Markdown code fences: ```json\n{...}\n```
// 3. Prose before/after the JSON object or array
//
// It returns the innermost valid JSON document, or the original string if none found.
func ExtractJSON(response string) string {
	// Trim whitespace
	response = strings.TrimSpace(response)

	// Step 1: Check if wrapped in {"text": "..."} from LLM client
	response = unwrapTextWrapper(response)

	// Step 2: Extract JSON from markdown code fences if present
	if extracted := extractFromCodeFence(response); extracted != "" {
		return extracted
	}

	// Step 3: Find JSON - try object or array, whichever comes first
	firstBrace := strings.Index(response, "{")
	firstBracket := strings.Index(response, "[")

	// Determine which to try first based on position
	if firstBrace != -1 && (firstBracket == -1 || firstBrace < firstBracket) {
		// Try object first
		if extracted := extractJSONObject(response); extracted != "" {
			return extracted
		}
		if extracted := extractJSONArray(response); extracted != "" {
			return extracted
		}
	} else if firstBracket != -1 {
		// Try array first
		if extracted := extractJSONArray(response); extracted != "" {
			return extracted
		}
		if extracted := extractJSONObject(response); extracted != "" {
			return extracted
		}
	}

	// Return original if no valid JSON found
	return response
}

// unwrapTextWrapper checks if the response is wrapped in {"text": "..."} and extracts the inner content
func unwrapTextWrapper(response string) string {
	// Quick check - must start with { and be valid JSON
	if !strings.HasPrefix(response, "{") {
		return response
	}

	var wrapper struct {
		Text string `json:"text"`
	}

	if err := json.Unmarshal([]byte(response), &wrapper); err != nil {
		return response
	}

	// If we found a text field and it's the only/main content, unwrap it
	if wrapper.Text != "" {
		// Verify the wrapper only has "text" field (not a schema response that happens to have text)
		var generic map[string]interface{}
		if err := json.Unmarshal([]byte(response), &generic); err == nil {
			if len(generic) == 1 {
				if _, hasText := generic["text"]; hasText {
					return strings.TrimSpace(wrapper.Text)
				}
			}
		}
	}

	return response
}

// extractFromCodeFence extracts JSON from markdown code fences like ```json\n{...}\n```
func extractFromCodeFence(response string) string {
	// Look for ```json or ``` followed by JSON
	patterns := []string{"```json\n", "```json\r\n", "```\n{", "```\r\n{", "```\n[", "```\r\n["}

	for _, pattern := range patterns {
		startIdx := strings.Index(response, pattern)
		if startIdx == -1 {
			continue
		}

		// Find the content start (after the opening fence)
		contentStart := startIdx + len(pattern)
		if strings.HasSuffix(pattern, "{") || strings.HasSuffix(pattern, "[") {
			contentStart-- // Include the opening brace/bracket
		}

		// Find the closing fence
		remaining := response[contentStart:]
		endIdx := strings.Index(remaining, "```")
		if endIdx == -1 {
			continue
		}

		content := strings.TrimSpace(remaining[:endIdx])

		// Validate it's proper JSON
		var js json.RawMessage
		if json.Unmarshal([]byte(content), &js) == nil {
			return content
		}
	}

	return ""
}

// extractJSONObject finds the first valid JSON object in the response
func extractJSONObject(response string) string {
	firstBrace := strings.Index(response, "{")
	if firstBrace == -1 {
		return ""
	}

	lastBrace := strings.LastIndex(response, "}")
	if lastBrace == -1 || lastBrace <= firstBrace {
		return ""
	}

	// Fast path: try first { to last } - this is the common case
	// when the LLM returns clean JSON with optional prose before/after
	candidate := response[firstBrace : lastBrace+1]
	var js json.RawMessage
	if json.Unmarshal([]byte(candidate), &js) == nil {
		return candidate
	}

	// Fallback: iterate through } characters to find the first valid JSON.
	// This handles cases like extra } after the JSON or multiple JSON objects.
	for i := firstBrace; i < len(response); i++ {
		if response[i] == '}' {
			candidate := response[firstBrace : i+1]
			if json.Unmarshal([]byte(candidate), &js) == nil {
				return candidate
			}
		}
	}

	return ""
}

// extractJSONArray finds the first valid JSON array in the response
func extractJSONArray(response string) string {
	firstBracket := strings.Index(response, "[")
	if firstBracket == -1 {
		return ""
	}

	lastBracket := strings.LastIndex(response, "]")
	if lastBracket == -1 || lastBracket <= firstBracket {
		return ""
	}

	// Fast path: try first [ to last ]
	candidate := response[firstBracket : lastBracket+1]
	var js json.RawMessage
	if json.Unmarshal([]byte(candidate), &js) == nil {
		return candidate
	}

	// Fallback: iterate through ] characters to find the first valid JSON
	for i := firstBracket; i < len(response); i++ {
		if response[i] == ']' {
			candidate := response[firstBracket : i+1]
			if json.Unmarshal([]byte(candidate), &js) == nil {
				return candidate
			}
		}
	}

	return ""
}
