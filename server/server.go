/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package server exposes the accounting tools over MCP.
package server

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ClearClose/Vouch/checker"
	"github.com/ClearClose/Vouch/config"
	"github.com/ClearClose/Vouch/engine"
	"github.com/ClearClose/Vouch/extract"
	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/llm"
	"github.com/ClearClose/Vouch/logging"
	"github.com/ClearClose/Vouch/reporting"
	"github.com/ClearClose/Vouch/rules"
	"github.com/ClearClose/Vouch/suggest"
	"github.com/ClearClose/Vouch/tasks"
	"github.com/ClearClose/Vouch/workbook"
)

// Server wraps the MCP server with our services
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	rules     *rules.Store
	tasks     *tasks.Store
	llm       *llm.Service
	engine    *engine.Engine
	checker   *checker.Service
	suggest   *suggest.Service
	extract   *extract.Service
	workbooks *workbook.Manager
	reporter  *reporting.Reporter
	mcpServer *server.MCPServer

	// last run outcomes for report_generate
	mu        sync.Mutex
	lastRun   *reporting.RunReport
	lastCheck *reporting.CheckReport
}

// New creates a new server instance
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	engineCfg := cfg.Engine()

	ruleStore := rules.NewStore(cfg.RulesFile(), logger)
	taskStore := tasks.NewStore(cfg.TasksFile(), logger)
	llmService := llm.NewService(cfg, logger)
	extractService := extract.NewService(cfg.EvidenceDir(), logger)
	workbookManager := workbook.NewManager(cfg.WorkbooksDir(), logger)

	eng := engine.New(logger, taskStore, llmService, engine.Settings{
		MaxWorkers:        engineCfg.MaxWorkers,
		TruncateChars:     engineCfg.TruncateChars,
		RateLimitRequests: engineCfg.RateLimit.MaxRequests,
		RateLimitPeriod:   engineCfg.RateLimit.PeriodSeconds,
	})

	checkService := checker.NewService(eng, llmService, extractService, engineCfg.TruncateChars, logger)
	suggestService := suggest.NewService(llmService, eng.Limiter(), engineCfg.TruncateChars, logger)

	// Custom report templates load from the reports directory
	reporter := reporting.New(logger, reporting.WithTemplateLoader(
		reporting.ContentLoaderFunc(func(path string) (string, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			return string(data), nil
		}),
	))

	mcpServer := server.NewMCPServer(
		global.ProgramName,
		global.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	srv := &Server{
		config:    cfg,
		logger:    logger,
		rules:     ruleStore,
		tasks:     taskStore,
		llm:       llmService,
		engine:    eng,
		checker:   checkService,
		suggest:   suggestService,
		extract:   extractService,
		workbooks: workbookManager,
		reporter:  reporter,
		mcpServer: mcpServer,
	}

	if err := srv.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return srv, nil
}

// readOnlyTool creates a tool with read-only annotations
// ReadOnly: true, Destructive: false, OpenWorld: false
func (s *Server) readOnlyTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(true),
		DestructiveHint: mcp.ToBoolPtr(false),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// defaultTool creates a tool with default annotations (non-destructive)
// ReadOnly: false, Destructive: false, OpenWorld: false
func (s *Server) defaultTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(false),
		DestructiveHint: mcp.ToBoolPtr(false),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// destructiveTool creates a tool with destructive annotations
// ReadOnly: false, Destructive: true, OpenWorld: false
func (s *Server) destructiveTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(false),
		DestructiveHint: mcp.ToBoolPtr(true),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	// Rule tools
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolRuleList,
			mcp.WithDescription("List all check rules, built-in and custom."),
		), s.handleRuleList)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolRuleGet,
			mcp.WithDescription("Get a single check rule by id."),
			mcp.WithString("id",
				mcp.Description("Rule id"),
				mcp.Required(),
			),
		), s.handleRuleGet)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolRuleCreate,
			mcp.WithDescription("Create a new check rule."),
			mcp.WithString("name",
				mcp.Description("Rule name (at least 3 characters, unique)"),
				mcp.Required(),
			),
			mcp.WithString("category",
				mcp.Description("Rule category: date, amount, approval, format, or other"),
				mcp.Required(),
			),
			mcp.WithString("prompt",
				mcp.Description("Check instruction applied to each invoice (at least 10 characters)"),
				mcp.Required(),
			),
			mcp.WithString("severity",
				mcp.Description("Finding severity: info, warning, or error (default: warning)"),
			),
		), s.handleRuleCreate)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolRuleUpdate,
			mcp.WithDescription("Update fields of an existing rule. Omitted fields are unchanged."),
			mcp.WithString("id",
				mcp.Description("Rule id"),
				mcp.Required(),
			),
			mcp.WithString("name",
				mcp.Description("New rule name"),
			),
			mcp.WithString("category",
				mcp.Description("New category"),
			),
			mcp.WithString("prompt",
				mcp.Description("New check instruction"),
			),
			mcp.WithString("severity",
				mcp.Description("New severity"),
			),
		), s.handleRuleUpdate)

	s.mcpServer.AddTool(
		s.destructiveTool(global.ToolRuleDelete,
			mcp.WithDescription("Delete a check rule."),
			mcp.WithString("id",
				mcp.Description("Rule id"),
				mcp.Required(),
			),
		), s.handleRuleDelete)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolRuleSearch,
			mcp.WithDescription("Search rules by keyword in name or prompt, optionally filtered by category."),
			mcp.WithString("keyword",
				mcp.Description("Case-insensitive keyword"),
			),
			mcp.WithString("category",
				mcp.Description("Category filter (optional)"),
			),
		), s.handleRuleSearch)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolRuleCategories,
			mcp.WithDescription("List rule categories with rule counts."),
		), s.handleRuleCategories)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolRuleExport,
			mcp.WithDescription("Export all rules as JSON."),
		), s.handleRuleExport)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolRuleImport,
			mcp.WithDescription("Import rules from a JSON export. Invalid rules are skipped."),
			mcp.WithString("data",
				mcp.Description("JSON rule export produced by rule_export"),
				mcp.Required(),
			),
			mcp.WithBoolean("replace",
				mcp.Description("Replace existing rules instead of appending (default: false)"),
			),
		), s.handleRuleImport)

	// Task configuration tools
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolTaskList,
			mcp.WithDescription("List available task configurations, built-in and custom."),
		), s.handleTaskList)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolTaskGet,
			mcp.WithDescription("Get a task configuration including its output schema."),
			mcp.WithString("id",
				mcp.Description("Task id"),
				mcp.Required(),
			),
		), s.handleTaskGet)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolTaskCreate,
			mcp.WithDescription("Create a custom task configuration with a prompt template and output schema."),
			mcp.WithString("name",
				mcp.Description("Task name"),
				mcp.Required(),
			),
			mcp.WithString("description",
				mcp.Description("Task description"),
			),
			mcp.WithString("prompt_template",
				mcp.Description("Prompt template applied to each work item"),
				mcp.Required(),
			),
			mcp.WithString("schema",
				mcp.Description("Output schema as JSON: target_sheet, start_row, columns keyed by column letter"),
				mcp.Required(),
			),
		), s.handleTaskCreate)

	// Execution tools
	s.mcpServer.AddTool(
		s.defaultTool(global.ToolInvoiceCheck,
			mcp.WithDescription("Check invoice files against rules. Pass 'files' as a JSON array of paths; each file is checked against every selected rule concurrently."),
			mcp.WithString("rule_ids",
				mcp.Description("Comma-separated rule ids to apply (default: all rules)"),
			),
			mcp.WithString("llm_id",
				mcp.Description("LLM to use (default: configured default)"),
			),
			mcp.WithNumber("max_workers",
				mcp.Description(fmt.Sprintf("Concurrent workers (default: %d, max: %d)", global.DefaultMaxWorkers, global.MaxWorkersLimit)),
			),
		), s.handleInvoiceCheck)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolTaskRun,
			mcp.WithDescription("Run a task over an evidence archive and write results to a workbook."),
			mcp.WithString("task_id",
				mcp.Description("Task configuration id"),
				mcp.Required(),
			),
			mcp.WithString("evidence_zip",
				mcp.Description("Path to a two-tier evidence zip archive"),
				mcp.Required(),
			),
			mcp.WithString("workbook",
				mcp.Description("Workbook name to write results into"),
				mcp.Required(),
			),
			mcp.WithString("instruction",
				mcp.Description("Supplementary instruction appended to every prompt (optional)"),
			),
			mcp.WithString("schema",
				mcp.Description("Output schema override as JSON (optional)"),
			),
			mcp.WithString("llm_id",
				mcp.Description("LLM to use (default: configured default)"),
			),
			mcp.WithNumber("max_workers",
				mcp.Description("Concurrent workers (optional)"),
			),
		), s.handleTaskRun)

	// Document and evidence tools
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolFileExtract,
			mcp.WithDescription("Extract text content from a single document (txt, md, csv, pdf, office formats)."),
			mcp.WithString("path",
				mcp.Description("Path to the document"),
				mcp.Required(),
			),
		), s.handleFileExtract)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolFolderProcess,
			mcp.WithDescription("Process a two-tier evidence zip archive into per-item document sets without running a task."),
			mcp.WithString("path",
				mcp.Description("Path to the evidence zip archive"),
				mcp.Required(),
			),
		), s.handleFolderProcess)

	// Workbook tools
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolWorkbookLoad,
			mcp.WithDescription("Load a workbook and list its sheets."),
			mcp.WithString("name",
				mcp.Description("Workbook name"),
				mcp.Required(),
			),
		), s.handleWorkbookLoad)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolWorkbookExport,
			mcp.WithDescription("Export a workbook sheet as CSV."),
			mcp.WithString("name",
				mcp.Description("Workbook name"),
				mcp.Required(),
			),
			mcp.WithString("sheet",
				mcp.Description("Sheet name"),
				mcp.Required(),
			),
		), s.handleWorkbookExport)

	// Rule suggestion tools
	s.mcpServer.AddTool(
		s.defaultTool(global.ToolSuggestRules,
			mcp.WithDescription("Analyze a sample document and propose check rules."),
			mcp.WithString("path",
				mcp.Description("Path to a sample document to analyze"),
				mcp.Required(),
			),
			mcp.WithNumber("max_rules",
				mcp.Description("Maximum rules to propose (default: 5)"),
			),
			mcp.WithString("llm_id",
				mcp.Description("LLM to use (default: configured default)"),
			),
		), s.handleSuggestRules)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolEnhanceRule,
			mcp.WithDescription("Rewrite a rule's check instruction to be more precise. Does not modify the stored rule."),
			mcp.WithString("id",
				mcp.Description("Rule id"),
				mcp.Required(),
			),
			mcp.WithString("llm_id",
				mcp.Description("LLM to use (default: configured default)"),
			),
		), s.handleEnhanceRule)

	// Report tool
	s.mcpServer.AddTool(
		s.defaultTool(global.ToolReportGenerate,
			mcp.WithDescription("Generate a report for the most recent task run or invoice check."),
			mcp.WithString("kind",
				mcp.Description("Report kind: 'run' (default) or 'check'"),
			),
			mcp.WithString("format",
				mcp.Description("Output format: markdown (default) or json"),
			),
			mcp.WithString("template",
				mcp.Description("Custom report template path under the reports directory (optional, run reports only)"),
			),
			mcp.WithBoolean("save",
				mcp.Description("Also save the report to the reports directory (default: false)"),
			),
		), s.handleReportGenerate)

	// LLM tools
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolLLMList,
			mcp.WithDescription("List configured LLMs."),
		), s.handleLLMList)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolLLMTest,
			mcp.WithDescription("Test that an LLM is available by sending a short probe prompt."),
			mcp.WithString("llm_id",
				mcp.Description("LLM id"),
				mcp.Required(),
			),
		), s.handleLLMTest)

	// System tools
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolHealth,
			mcp.WithDescription("Report server health, configuration status, and enabled LLMs."),
		), s.handleHealth)

	return nil
}

// Run starts the MCP server with graceful shutdown
func (s *Server) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	errChan := make(chan error, 1)
	go func() {
		err := server.ServeStdio(s.mcpServer)
		// ServeStdio returns when stdin is closed (EOF) or on error
		errChan <- err
	}()

	s.logger.Infof("MCP server started successfully")

	select {
	case <-sigChan:
		s.logger.Info("Shutdown signal received")
		s.logger.Info("Server stopped")
		if err := s.logger.Sync(); err != nil {
			s.logger.Warnf("Failed to flush logs on shutdown: %v", err)
		}
		return nil

	case err := <-errChan:
		if err != nil {
			s.logger.Errorf("Server error: %v", err)
			return fmt.Errorf("server error: %w", err)
		}
		// nil error means stdin was closed (EOF) - normal exit
		s.logger.Info("Connection closed")
		s.logger.Info("Server exiting")
		return nil
	}
}
