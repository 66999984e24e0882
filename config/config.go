/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ClearClose/Vouch/global"
)

// Config provides access to application configuration
type Config struct {
	configPath   string      // resolved path to config file
	data         *configData // parsed configuration
	firstRun     bool        // true if config was just created
	rulesFile    string      // resolved rules store path
	tasksFile    string      // resolved task-config store path
	workbooksDir string      // resolved workbook storage directory
	reportsDir   string      // resolved report output directory
	evidenceDir  string      // resolved evidence extraction directory
}

// configData holds the parsed configuration (internal)
type configData struct {
	Version    int     `json:"version"`
	BaseDir    string  `json:"base_dir"`
	RulesFile  string  `json:"rules_file,omitempty"`
	TasksFile  string  `json:"tasks_file,omitempty"`
	DataDir    string  `json:"data_dir,omitempty"`
	DefaultLLM string  `json:"default_llm,omitempty"`
	LLMs       []LLM   `json:"llms"`
	Engine     Engine  `json:"engine,omitempty"`
	Logging    Logging `json:"logging"`
}

// LLMTypeCommand LLMType constants
const (
	LLMTypeCommand = "command" // Command-line executable (only supported type for now)
)

// LLM represents an LLM configuration
type LLM struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description"`
	Enabled      bool   `json:"enabled,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Type specifies the provider type (only "command" supported for now)
	Type string `json:"type,omitempty"`

	// Command is the path to the executable
	Command string `json:"command,omitempty"`
	// Args is the list of arguments; use {{PROMPT}} as placeholder for the prompt (unless Stdin is true)
	Args []string `json:"args,omitempty"`
	// Stdin: if true, prompt is piped to command's stdin instead of using {{PROMPT}} placeholder
	Stdin bool `json:"stdin,omitempty"`

	// TimeoutSeconds is the per-request timeout (default/min/max enforced at load)
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// RecoveryConfig configures error recovery for this LLM (rate limits, transient errors)
	RecoveryConfig *LLMRecoveryConfig `json:"recovery,omitempty"`
}

// LLMRecoveryConfig configures error recovery for an LLM (rate limits, transient errors)
type LLMRecoveryConfig struct {
	// RateLimitPatterns to detect rate limiting in stdout/stderr (case-insensitive substring match)
	RateLimitPatterns []string `json:"rate_limit_patterns,omitempty"`
	// TestPrompt is a simple prompt used to probe if LLM is available
	TestPrompt string `json:"test_prompt,omitempty"`
}

// Logging represents logging configuration
type Logging struct {
	File  string `json:"file"`
	Level string `json:"level"`
}

// Engine represents batch execution configuration
type Engine struct {
	MaxWorkers    int       `json:"max_workers,omitempty"`
	TruncateChars int       `json:"truncate_chars,omitempty"`
	RateLimit     RateLimit `json:"rate_limit,omitempty"`
}

// RateLimit represents rate limiting configuration
type RateLimit struct {
	MaxRequests   int `json:"max_requests,omitempty"`
	PeriodSeconds int `json:"period_seconds,omitempty"`
}

// Option is a functional option for configuring Config
type Option func(*Config)

// New creates a new Config instance with optional configuration
func New(opts ...Option) *Config {
	c := &Config{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithConfigPath sets an explicit config file path
func WithConfigPath(path string) Option {
	return func(c *Config) {
		c.configPath = path
	}
}

// Load loads and validates configuration from file
// If the base directory or config file doesn't exist, it creates them with defaults
func (c *Config) Load() error {
	// Resolve config file path
	configPath, err := c.resolveConfigPath()
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	c.configPath = configPath

	// Determine if this is a first-run scenario
	baseDir := c.resolveDefaultBaseDir()
	baseDirExists := dirExists(baseDir)
	configExists := fileExists(configPath)

	// First-run: create base directory
	if !baseDirExists {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return fmt.Errorf("failed to create base directory %s: %w", baseDir, err)
		}
	}

	// Create default config if it doesn't exist
	if !configExists {
		c.firstRun = true
		if err := c.setupDefaultConfig(configPath); err != nil {
			return fmt.Errorf("failed to create default config at %s: %w", configPath, err)
		}
		// Continue loading the newly created config instead of returning error
	}

	// Read and parse config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// First pass: detect unknown fields using strict parsing
	var cfg configData
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		// Check if it's an unknown field error
		errStr := err.Error()
		if strings.Contains(errStr, "unknown field") {
			_, _ = fmt.Fprintf(os.Stderr, "Warning: config file %s: %v\n", configPath, err)
			// Re-parse without strict mode to still load the config
			if err := json.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		} else {
			return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	c.data = &cfg

	// Resolve and validate base_dir
	if err := c.resolveBaseDir(); err != nil {
		return err
	}

	// Validate configuration
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Normalize all paths (resolve relative to base_dir) and create directories
	if err := c.normalizePaths(); err != nil {
		return fmt.Errorf("failed to normalize paths: %w", err)
	}

	return nil
}

// setupDefaultConfig writes a starter config file with a disabled example LLM
func (c *Config) setupDefaultConfig(configPath string) error {
	cfg := configData{
		Version: 1,
		BaseDir: global.DefaultBaseDir,
		LLMs: []LLM{
			{
				ID:          "example",
				DisplayName: "Example CLI",
				Description: "Example command-line LLM. Set the command, enable it, and restart.",
				Enabled:     false,
				Type:        LLMTypeCommand,
				Command:     "llm",
				Args:        []string{"{{PROMPT}}"},
				RecoveryConfig: &LLMRecoveryConfig{
					RateLimitPatterns: []string{"rate limit", "429", "overloaded"},
					TestPrompt:        "Reply with the single word: ready",
				},
			},
		},
		Engine: Engine{
			MaxWorkers:    global.DefaultMaxWorkers,
			TruncateChars: global.DefaultTruncateChars,
			RateLimit: RateLimit{
				MaxRequests:   global.DefaultRateLimitRequests,
				PeriodSeconds: global.DefaultRateLimitPeriod,
			},
		},
		Logging: Logging{
			File:  global.ProgramName + ".log",
			Level: global.LogLevelInfo,
		},
	}

	content, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	content = append(content, '\n')

	// Ensure parent directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	return nil
}

// resolveConfigPath determines the config file path using precedence rules
func (c *Config) resolveConfigPath() (string, error) {
	// 1. Explicit path (from WithConfigPath option)
	if c.configPath != "" {
		return c.resolveToAbsolute(c.configPath)
	}

	// 2. Environment variable
	if envPath := os.Getenv(global.ConfigEnvVar); envPath != "" {
		return c.resolveToAbsolute(envPath)
	}

	// 3. Default: base_dir/config.json
	baseDir := c.resolveDefaultBaseDir()
	return filepath.Join(baseDir, global.DefaultConfigFileName), nil
}

// resolveDefaultBaseDir returns the resolved default base directory
func (c *Config) resolveDefaultBaseDir() string {
	return expandHomePath(global.DefaultBaseDir)
}

// resolveBaseDir resolves and validates the base_dir from config
func (c *Config) resolveBaseDir() error {
	if c.data.BaseDir == "" {
		c.data.BaseDir = expandHomePath(global.DefaultBaseDir)
		return nil
	}

	// Expand ~/ if present
	resolved := expandHomePath(c.data.BaseDir)

	// Check if it's absolute
	if !filepath.IsAbs(resolved) {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: base_dir '%s' is not absolute, using default '%s'\n",
			c.data.BaseDir, global.DefaultBaseDir)
		resolved = expandHomePath(global.DefaultBaseDir)
	}

	c.data.BaseDir = resolved
	return nil
}

// resolveToAbsolute converts a path to absolute, expanding ~/ if needed
func (c *Config) resolveToAbsolute(path string) (string, error) {
	expanded := expandHomePath(path)
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return filepath.Abs(expanded)
}

// resolvePath resolves a path relative to base_dir
// - If absolute, returns as-is
// - If starts with ~/, expands home directory
// - Otherwise, joins with base_dir
func (c *Config) resolvePath(path string) string {
	if path == "" {
		return ""
	}

	// Expand ~/ first
	expanded := expandHomePath(path)

	// If absolute, return as-is
	if filepath.IsAbs(expanded) {
		return expanded
	}

	// Relative: join with base_dir
	return filepath.Join(c.data.BaseDir, expanded)
}

// expandHomePath expands ~/ to the user's home directory
func expandHomePath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		// Can't determine home dir, return path as-is
		return path
	}

	return filepath.Join(home, path[2:])
}

// validate validates the configuration
func (c *Config) validate() error {
	// Check version
	if c.data.Version != 1 {
		if c.data.Version < 1 {
			return fmt.Errorf("config version %d is too old (expected 1)", c.data.Version)
		}
		return fmt.Errorf("config version %d is newer than supported (expected 1)", c.data.Version)
	}

	// Check LLMs - at least one must be defined (but doesn't need to be enabled)
	if len(c.data.LLMs) == 0 {
		return fmt.Errorf("llms cannot be empty - please define at least one LLM")
	}

	llmIDs := make(map[string]bool)
	for _, llm := range c.data.LLMs {
		if llm.ID == "" {
			return fmt.Errorf("LLM id cannot be empty")
		}
		if llm.DisplayName == "" {
			return fmt.Errorf("LLM display_name cannot be empty for LLM %s", llm.ID)
		}
		if llm.Description == "" {
			return fmt.Errorf("LLM description cannot be empty for LLM %s", llm.ID)
		}

		if llmIDs[llm.ID] {
			return fmt.Errorf("duplicate LLM id: %s", llm.ID)
		}
		llmIDs[llm.ID] = true

		// Validate LLM type (only "command" supported for now)
		llmType := llm.Type
		if llmType == "" {
			llmType = LLMTypeCommand // default to command
		}

		if llmType != LLMTypeCommand {
			return fmt.Errorf("invalid LLM type '%s' for LLM %s (only 'command' is supported)", llmType, llm.ID)
		}

		// Validate command LLM
		if llm.Command == "" {
			return fmt.Errorf("LLM command cannot be empty for LLM %s", llm.ID)
		}

		// Verify {{PROMPT}} placeholder exists in args (unless Stdin is true)
		if !llm.Stdin {
			hasPromptPlaceholder := false
			for _, arg := range llm.Args {
				if strings.Contains(arg, "{{PROMPT}}") {
					hasPromptPlaceholder = true
					break
				}
			}
			if !hasPromptPlaceholder {
				return fmt.Errorf("LLM args must contain {{PROMPT}} placeholder for LLM %s (or set stdin: true)", llm.ID)
			}
		}

		// Validate per-request timeout bounds
		if _, err := global.ValidateTimeout(llm.TimeoutSeconds); err != nil {
			return fmt.Errorf("LLM %s: %w", llm.ID, err)
		}

		// Validate command executable exists (only for enabled LLMs)
		if llm.Enabled {
			// Expand tilde in command path before checking
			expandedCmd := expandHomePath(llm.Command)
			if _, err := exec.LookPath(expandedCmd); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Warning: LLM %s: executable not found: %s - disabling\n", llm.ID, llm.Command)
				// Find the LLM in the slice and disable it
				for i := range c.data.LLMs {
					if c.data.LLMs[i].ID == llm.ID {
						c.data.LLMs[i].Enabled = false
						break
					}
				}
			} else {
				// Store the expanded path for use at runtime
				for i := range c.data.LLMs {
					if c.data.LLMs[i].ID == llm.ID {
						c.data.LLMs[i].Command = expandedCmd
						break
					}
				}
			}
		}
	}

	// Validate default_llm if specified
	if c.data.DefaultLLM != "" {
		// Check that default_llm exists
		if !llmIDs[c.data.DefaultLLM] {
			return fmt.Errorf("default_llm '%s' not found in llms list", c.data.DefaultLLM)
		}

		// Check that default_llm is enabled - if not, clear it and warn
		for _, llm := range c.data.LLMs {
			if llm.ID == c.data.DefaultLLM {
				if !llm.Enabled {
					_, _ = fmt.Fprintf(os.Stderr, "Warning: default_llm '%s' is not enabled - clearing default\n", c.data.DefaultLLM)
					c.data.DefaultLLM = ""
				}
				break
			}
		}
	}

	// Validate engine settings
	if _, err := global.ValidateMaxWorkers(c.data.Engine.MaxWorkers); err != nil {
		return err
	}
	if c.data.Engine.TruncateChars < 0 {
		return fmt.Errorf("engine truncate_chars cannot be negative")
	}
	if c.data.Engine.RateLimit.MaxRequests < 0 || c.data.Engine.RateLimit.PeriodSeconds < 0 {
		return fmt.Errorf("engine rate_limit values cannot be negative")
	}

	return nil
}

// normalizePaths resolves all paths to absolute paths and creates data directories
func (c *Config) normalizePaths() error {
	// Resolve rules and task-config store files (use defaults if not specified)
	rulesFile := c.data.RulesFile
	if rulesFile == "" {
		rulesFile = global.DefaultRulesFileName
	}
	c.rulesFile = c.resolvePath(rulesFile)

	tasksFile := c.data.TasksFile
	if tasksFile == "" {
		tasksFile = global.DefaultTasksFileName
	}
	c.tasksFile = c.resolvePath(tasksFile)

	// Resolve data directory and its fixed subdirectories
	dataDir := c.data.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	dataRoot := c.resolvePath(dataDir)

	c.workbooksDir = filepath.Join(dataRoot, global.DefaultWorkbooksDir)
	c.reportsDir = filepath.Join(dataRoot, global.DefaultReportsDir)
	c.evidenceDir = filepath.Join(dataRoot, global.DefaultEvidenceDir)

	for _, dir := range []string{c.workbooksDir, c.reportsDir, c.evidenceDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory at %s: %w", dir, err)
		}
	}

	// Normalize log file path
	if c.data.Logging.File != "" {
		c.data.Logging.File = c.resolvePath(c.data.Logging.File)
	}

	return nil
}

// Getter methods

// Version returns the config version
func (c *Config) Version() int {
	return c.data.Version
}

// BaseDir returns the resolved base directory (always absolute)
func (c *Config) BaseDir() string {
	return c.data.BaseDir
}

// RulesFile returns the resolved rules store path (always absolute)
func (c *Config) RulesFile() string {
	return c.rulesFile
}

// TasksFile returns the resolved task-config store path (always absolute)
func (c *Config) TasksFile() string {
	return c.tasksFile
}

// WorkbooksDir returns the resolved workbook storage directory (always absolute)
func (c *Config) WorkbooksDir() string {
	return c.workbooksDir
}

// ReportsDir returns the resolved report output directory (always absolute)
func (c *Config) ReportsDir() string {
	return c.reportsDir
}

// EvidenceDir returns the resolved evidence extraction directory (always absolute)
func (c *Config) EvidenceDir() string {
	return c.evidenceDir
}

// LLMs returns all configured LLMs
func (c *Config) LLMs() []LLM {
	return c.data.LLMs
}

// GetLLM returns an LLM by ID, or nil if not found
func (c *Config) GetLLM(id string) *LLM {
	for i := range c.data.LLMs {
		if c.data.LLMs[i].ID == id {
			return &c.data.LLMs[i]
		}
	}
	return nil
}

// LogFile returns the resolved log file path (always absolute)
func (c *Config) LogFile() string {
	return c.data.Logging.File
}

// LogLevel returns the configured log level
func (c *Config) LogLevel() string {
	return c.data.Logging.Level
}

// IsFirstRun returns true if this is the first run (config was just created)
func (c *Config) IsFirstRun() bool {
	return c.firstRun
}

// HasEnabledLLM returns true if at least one LLM is enabled
func (c *Config) HasEnabledLLM() bool {
	for _, llm := range c.data.LLMs {
		if llm.Enabled {
			return true
		}
	}
	return false
}

// EnabledLLMs returns only the enabled LLMs
func (c *Config) EnabledLLMs() []LLM {
	var enabled []LLM
	for _, llm := range c.data.LLMs {
		if llm.Enabled {
			enabled = append(enabled, llm)
		}
	}
	return enabled
}

// DefaultLLM returns the default LLM ID, or empty string if not configured
func (c *Config) DefaultLLM() string {
	return c.data.DefaultLLM
}

// ConfigPath returns the path to the loaded config file
func (c *Config) ConfigPath() string {
	return c.configPath
}

// Engine returns the engine configuration with defaults applied
func (c *Config) Engine() Engine {
	e := c.data.Engine
	if e.MaxWorkers <= 0 {
		e.MaxWorkers = global.DefaultMaxWorkers
	}
	if e.TruncateChars <= 0 {
		e.TruncateChars = global.DefaultTruncateChars
	}
	if e.RateLimit.MaxRequests <= 0 {
		e.RateLimit.MaxRequests = global.DefaultRateLimitRequests
	}
	if e.RateLimit.PeriodSeconds <= 0 {
		e.RateLimit.PeriodSeconds = global.DefaultRateLimitPeriod
	}
	return e
}

// LLM methods

// GetSystemPrompt returns the system prompt for the LLM, with a default if not specified
func (llm *LLM) GetSystemPrompt() string {
	if llm.SystemPrompt == "" {
		return "You are a meticulous accounting audit assistant."
	}
	return llm.SystemPrompt
}

// GetType returns the effective LLM type (defaults to "command" if not specified)
func (llm *LLM) GetType() string {
	if llm.Type == "" {
		return LLMTypeCommand
	}
	return llm.Type
}

// IsCommandType returns true if this is a command-line LLM
func (llm *LLM) IsCommandType() bool {
	return llm.GetType() == LLMTypeCommand
}

// GetTimeoutSeconds returns the effective per-request timeout in seconds
func (llm *LLM) GetTimeoutSeconds() int {
	if llm.TimeoutSeconds <= 0 {
		return global.DefaultTimeout
	}
	return llm.TimeoutSeconds
}

// Helper functions

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && info.IsDir()
}
