/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ClearClose/Vouch/config"
	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
	"github.com/ClearClose/Vouch/server"
)

func main() {
	// Top-level panic recovery
	defer func() {
		if rec := recover(); rec != nil {
			_, _ = fmt.Fprintf(os.Stderr, "FATAL PANIC: %v\n", rec)
			os.Exit(2)
		}
	}()

	// Parse command line flags
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	// Handle version flag
	if *version {
		fmt.Printf("%s v%s\n", global.ProgramName, global.Version)
		return
	}

	// Handle help flag
	if *help {
		showHelp()
		return
	}

	var opts []config.Option
	if *configPath != "" {
		opts = append(opts, config.WithConfigPath(*configPath))
	}
	cfg := config.New(opts...)

	// Load and validate configuration
	if err := cfg.Load(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger with config path
	logger, err := logging.New(cfg.LogFile())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *logging.Logger) {
		// Ensure logs are flushed before exit
		_ = logger.Sync()
		_ = logger.Close()
	}(logger)

	// Set log level from config
	logger.SetLevel(cfg.LogLevel())

	// Announce startup
	logger.Infof("%s v%s starting", global.ProgramName, global.Version)

	// Log first-run message
	if cfg.IsFirstRun() {
		logger.Infof("First run detected - created default configuration at %s", cfg.ConfigPath())
		logger.Info("Please edit the configuration to enable LLMs before running checks")
	}

	// Log warning if no LLMs are enabled
	if !cfg.HasEnabledLLM() {
		logger.Warn("No LLMs are enabled - invoice_check and task_run will not work until you enable at least one LLM in the configuration")
	}

	// Create and start server
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create server: %v", err)
	}

	// Run the server
	if err := srv.Run(); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}

func showHelp() {
	fmt.Printf(`%s v%s - MCP Server for Accounting Evidence Review

USAGE:
    %s [OPTIONS]

OPTIONS:
    --config PATH    Path to configuration file
                     (default: $VOUCH_CONFIG or %s/%s)
    --version        Show version information
    --help          Show this help message

DESCRIPTION:
    Vouch is a Model Context Protocol (MCP) server that provides:

    - Check rules applied to invoices and receipts by an LLM
    - Task runs over two-tier evidence archives
    - Workbooks that collect structured results, exportable as CSV
    - Rule suggestion and enhancement from sample documents
    - Markdown and JSON reports of runs and checks

CONFIGURATION:
    The server requires a JSON configuration file that defines:

    - rules_file: Persistent rule store (default: rules.json)
    - tasks_file: Persistent custom task store (default: tasks.json)
    - llms: Named command-based LLM endpoints
    - engine: Worker, truncation, and rate limit settings

    On first run, a default configuration is created in %s.
    Edit the config file to enable at least one LLM.

FIRST RUN:
    1. Run %s once to create default config
    2. Edit %s/%s to configure and enable LLMs
    3. Run %s again to start the server

EXAMPLES:
    # Start with default config
    %s

    # Start with custom config
    %s --config /path/to/config.json

    # Show version
    %s --version

ENVIRONMENT:
    VOUCH_CONFIG    Path to configuration file (if --config not used)
`, global.ProgramName, global.Version,
		global.ProgramName,
		global.DefaultBaseDir, global.DefaultConfigFileName,
		global.DefaultBaseDir,
		global.ProgramName,
		global.DefaultBaseDir, global.DefaultConfigFileName,
		global.ProgramName,
		global.ProgramName,
		global.ProgramName,
		global.ProgramName)
}
