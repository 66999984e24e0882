/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ClearClose/Vouch/config"
	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

// Service provides LLM dispatch functionality
type Service struct {
	config    *config.Config
	logger    *logging.Logger
	llmConfig map[string]*config.LLM
}

// DispatchRequest represents a request to dispatch work to an LLM
type DispatchRequest struct {
	LLMID   string           `json:"llm_id"`
	Prompt  string           `json:"prompt"`
	Options *DispatchOptions `json:"options,omitempty"`
}

// DispatchOptions represents options for LLM dispatch
type DispatchOptions struct {
	ResponseFormat string `json:"response_format,omitempty"`
	Timeout        int    `json:"timeout,omitempty"` // Timeout in seconds (min: 60, max: 900, default: 300)
}

// DispatchResult represents the result of an LLM dispatch
// This is returned when the LLM command was invoked (any exit code).
// For infrastructure failures (command not found, permission denied), Dispatch returns (nil, error).
type DispatchResult struct {
	ExitCode     int         `json:"exit_code"`               // Command exit code (0 = success, non-zero = LLM error)
	Stdout       string      `json:"stdout"`                  // Raw stdout (ALWAYS captured)
	Stderr       string      `json:"stderr"`                  // Raw stderr (ALWAYS captured)
	Output       interface{} `json:"output,omitempty"`        // Parsed JSON (if ExitCode==0 and parsing succeeded)
	ResponseSize int         `json:"response_size,omitempty"` // Size of stdout in bytes
}

// NewService creates a new LLM service
func NewService(cfg *config.Config, logger *logging.Logger) *Service {
	llmConfig := make(map[string]*config.LLM)

	// Build LLM config map
	llms := cfg.LLMs()
	for i := range llms {
		llm := &llms[i]
		llmConfig[llm.ID] = llm
	}

	return &Service{
		config:    cfg,
		logger:    logger,
		llmConfig: llmConfig,
	}
}

// LLMInfo represents information about a configured LLM
//
//goland:noinspection GoNameStartsWithPackageName
type LLMInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// LLMListResult represents the result of listing LLMs
//
//goland:noinspection GoNameStartsWithPackageName
type LLMListResult struct {
	LLMs    []LLMInfo `json:"llms"`
	Default string    `json:"default,omitempty"`
}

// ListLLMs returns information about all configured LLMs
func (s *Service) ListLLMs() *LLMListResult {
	var llms []LLMInfo

	for _, llm := range s.config.LLMs() {
		llms = append(llms, LLMInfo{
			ID:          llm.ID,
			DisplayName: llm.DisplayName,
			Description: llm.Description,
			Enabled:     llm.Enabled,
		})
	}

	return &LLMListResult{
		LLMs:    llms,
		Default: s.config.DefaultLLM(),
	}
}

// GetLLM returns the full LLM configuration for the given ID
func (s *Service) GetLLM(llmID string) *config.LLM {
	llm, ok := s.llmConfig[llmID]
	if !ok {
		return nil
	}
	return llm
}

// ResolveLLM returns the LLM for the given ID, falling back to the configured
// default when id is empty
func (s *Service) ResolveLLM(id string) (*config.LLM, error) {
	if id == "" {
		id = s.config.DefaultLLM()
	}
	if id == "" {
		return nil, fmt.Errorf("no LLM specified and no default_llm configured")
	}
	llm, ok := s.llmConfig[id]
	if !ok {
		return nil, fmt.Errorf("unknown LLM ID: %s", id)
	}
	return llm, nil
}

// validateRequest validates a dispatch request
func (s *Service) validateRequest(req *DispatchRequest) (*config.LLM, error) {
	if req.LLMID == "" {
		return nil, fmt.Errorf("llm_id is required")
	}

	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	llm, exists := s.llmConfig[req.LLMID]
	if !exists {
		return nil, fmt.Errorf("unknown LLM ID: %s", req.LLMID)
	}

	if !llm.Enabled {
		return nil, fmt.Errorf("LLM %s is not enabled - set enabled: true in config to use it", req.LLMID)
	}

	return llm, nil
}

// Dispatch dispatches work to an LLM. The context bounds the whole call;
// the per-request timeout is still applied on top of it.
func (s *Service) Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchResult, error) {
	// Validate request
	llm, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	// Extract and validate timeout
	timeout := llm.GetTimeoutSeconds()
	if req.Options != nil && req.Options.Timeout > 0 {
		timeout, err = global.ValidateTimeout(req.Options.Timeout)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Debugf("Dispatching to LLM %s (timeout: %ds, %d prompt bytes)", req.LLMID, timeout, len(req.Prompt))

	// Execute command LLM
	result, err := s.callCommandLLM(ctx, llm, req, timeout)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("LLM %s response processed successfully", req.LLMID)

	return result, nil
}

// Complete performs one completion and returns the response text plus token
// usage. An empty llmID falls back to the configured default. Rate limiting
// and non-zero exit codes surface as errors so batch workers can record them.
func (s *Service) Complete(ctx context.Context, llmID string, prompt string) (string, int, error) {
	llm, err := s.ResolveLLM(llmID)
	if err != nil {
		return "", 0, err
	}

	result, err := s.Dispatch(ctx, &DispatchRequest{
		LLMID:  llm.ID,
		Prompt: prompt,
		Options: &DispatchOptions{
			ResponseFormat: global.ResponseFormatJSON,
		},
	})
	if err != nil {
		return "", 0, err
	}

	if result.ExitCode != 0 {
		if s.IsRateLimited(result, llm) {
			return "", 0, fmt.Errorf("LLM %s rate limited: %s", llm.ID, firstLine(result.Stderr))
		}
		return "", 0, fmt.Errorf("LLM %s exited with code %d: %s", llm.ID, result.ExitCode, firstLine(result.Stderr))
	}

	// Some CLIs wrap the response text in a JSON envelope alongside usage
	text := result.Stdout
	if envelope, ok := result.Output.(map[string]interface{}); ok {
		for _, key := range []string{"result", "text"} {
			if inner, ok := envelope[key].(string); ok && inner != "" {
				text = inner
				break
			}
		}
	}

	return text, tokenUsage(result, prompt), nil
}

// tokenUsage reads reported token usage from a JSON response envelope
// (usage.total_tokens, or input+output token counts), falling back to a
// bytes/4 estimate when the provider reports nothing.
func tokenUsage(result *DispatchResult, prompt string) int {
	if envelope, ok := result.Output.(map[string]interface{}); ok {
		if usage, ok := envelope["usage"].(map[string]interface{}); ok {
			if total, ok := numField(usage, "total_tokens"); ok {
				return total
			}
			in, hasIn := numField(usage, "input_tokens")
			out, hasOut := numField(usage, "output_tokens")
			if hasIn || hasOut {
				return in + out
			}
		}
	}
	return (len(prompt) + len(result.Stdout)) / 4
}

func numField(m map[string]interface{}, key string) (int, bool) {
	v, ok := m[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}

// TestLLM sends a simple test prompt to verify LLM availability
// Returns (true, nil) if LLM responds successfully
// Returns (false, nil) if LLM is rate-limited or unavailable (exit code != 0)
// Returns (false, error) if infrastructure error prevents test
func (s *Service) TestLLM(ctx context.Context, llmID string) (bool, error) {
	llm, exists := s.llmConfig[llmID]
	if !exists {
		return false, fmt.Errorf("unknown LLM ID: %s", llmID)
	}

	if !llm.Enabled {
		return false, fmt.Errorf("LLM %s is not enabled", llmID)
	}

	// Use configured test prompt or default
	testPrompt := "Respond with only the word OK"
	if llm.RecoveryConfig != nil && llm.RecoveryConfig.TestPrompt != "" {
		testPrompt = llm.RecoveryConfig.TestPrompt
	}

	result, err := s.Dispatch(ctx, &DispatchRequest{
		LLMID:  llmID,
		Prompt: testPrompt,
		Options: &DispatchOptions{
			Timeout: global.MinTimeout, // Short timeout for test
		},
	})

	if err != nil {
		return false, err // Infrastructure failure
	}

	// Check for rate limit patterns
	if s.IsRateLimited(result, llm) {
		return false, nil // Rate limited
	}

	return result.ExitCode == 0, nil
}

// IsRateLimited checks if a dispatch result indicates rate limiting
func (s *Service) IsRateLimited(result *DispatchResult, llm *config.LLM) bool {
	if result == nil || result.ExitCode == 0 {
		return false
	}

	if llm == nil || llm.RecoveryConfig == nil || len(llm.RecoveryConfig.RateLimitPatterns) == 0 {
		return false
	}

	combined := strings.ToLower(result.Stdout + result.Stderr)
	for _, pattern := range llm.RecoveryConfig.RateLimitPatterns {
		if strings.Contains(combined, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// callCommandLLM executes a command-line LLM
func (s *Service) callCommandLLM(ctx context.Context, llm *config.LLM, req *DispatchRequest, timeout int) (*DispatchResult, error) {
	// Build the full prompt with the system prompt up front
	var fullPrompt strings.Builder
	fullPrompt.WriteString("=== SYSTEM ===\n")
	fullPrompt.WriteString(llm.GetSystemPrompt())
	fullPrompt.WriteString("\n=== TASK ===\n")
	fullPrompt.WriteString(req.Prompt)

	promptText := fullPrompt.String()

	// Build args - substitute {{PROMPT}} unless using stdin
	var args []string
	if llm.Stdin {
		// Use args as-is when using stdin
		args = llm.Args
	} else {
		// Substitute {{PROMPT}} placeholder in args
		args = make([]string, len(llm.Args))
		for i, arg := range llm.Args {
			args[i] = strings.ReplaceAll(arg, "{{PROMPT}}", promptText)
		}
	}

	s.logger.Debugf("Executing command: %s (stdin: %v)", llm.Command, llm.Stdin)

	// Create command with timeout layered on the caller's context
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, llm.Command, args...)

	// Capture stdout and stderr
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Pipe prompt to stdin if configured
	if llm.Stdin {
		cmd.Stdin = strings.NewReader(promptText)
	}

	// Run command
	err := cmd.Run()

	// Get exit code
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	// Get output (always capture stdout and stderr)
	output := strings.TrimSpace(stdout.String())
	stderrOutput := strings.TrimSpace(stderr.String())
	responseSize := len(output)

	// Check for infrastructure failures (command couldn't execute at all)
	if err != nil {
		// Timeout is an infrastructure failure
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Errorf("LLM command timed out after %d seconds", timeout)
			return nil, fmt.Errorf("command timed out after %d seconds", timeout)
		}

		// Caller cancelled the surrounding context
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}

		// Check if this is an exec error (command not found, permission denied, etc.)
		// vs the command ran but returned non-zero exit code
		var execErr *exec.ExitError
		if !errors.As(err, &execErr) {
			// Not an ExitError - this is an infrastructure failure (command couldn't start)
			s.logger.Errorf("LLM command infrastructure failure: %v", err)
			return nil, fmt.Errorf("infrastructure failure: %w", err)
		}

		// Command executed but returned non-zero - this is an LLM error, not infrastructure
		// Fall through to return DispatchResult with the exit code
	}

	s.logger.Debugf("LLM command exited with code %d, returned %d bytes, stderr %d bytes", exitCode, responseSize, len(stderrOutput))

	// Build result - always include Stdout and Stderr
	result := &DispatchResult{
		ExitCode:     exitCode,
		Stdout:       output,
		Stderr:       stderrOutput,
		ResponseSize: responseSize,
	}

	// Only parse Output if command succeeded (exit code 0)
	if exitCode != 0 {
		s.logger.Warnf("LLM command exited with non-zero code %d", exitCode)
		return result, nil
	}

	// Handle response format for successful commands
	responseFormat := global.ResponseFormatText
	if req.Options != nil && req.Options.ResponseFormat != "" {
		responseFormat = req.Options.ResponseFormat
	}

	switch responseFormat {
	case global.ResponseFormatJSON:
		// Parse as JSON
		var jsonResult interface{}
		if err := json.Unmarshal([]byte(output), &jsonResult); err != nil {
			// JSON parse failure - still return the result with Stdout populated
			s.logger.Warnf("Failed to parse JSON from command output: %v", err)
			return result, nil
		}
		result.Output = jsonResult

	case global.ResponseFormatText:
		fallthrough
	default:
		result.Output = map[string]interface{}{
			"text": output,
		}
	}

	return result, nil
}
