/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ClearClose/Vouch/global"
)

// Helper function to create JSON tool results safely
func createJSONResult(data interface{}) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(data)
	if err != nil {
		return mcp.NewToolResultError("Failed to create JSON result"), nil
	}
	return result, nil
}

// logToolCall logs an MCP tool invocation at INFO level
func (s *Server) logToolCall(toolName string, params map[string]string) {
	if len(params) == 0 {
		s.logger.Infof("Tool %s called", toolName)
		return
	}
	var parts []string
	for k, v := range params {
		if v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	if len(parts) == 0 {
		s.logger.Infof("Tool %s called", toolName)
	} else {
		s.logger.Infof("Tool %s called: %s", toolName, joinStrings(parts, ", "))
	}
}

// joinStrings joins string slice with separator (avoiding strings import)
func joinStrings(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	result := parts[0]
	for i := 1; i < len(parts); i++ {
		result += sep + parts[i]
	}
	return result
}

// LLM handlers

func (s *Server) handleLLMList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolLLMList, nil)
	result := s.llm.ListLLMs()
	return createJSONResult(result)
}

func (s *Server) handleLLMTest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	llmID := mcp.ParseString(request, "llm_id", "")

	s.logToolCall(global.ToolLLMTest, map[string]string{"llm_id": llmID})

	if llmID == "" {
		return mcp.NewToolResultError("llm_id parameter is required"), nil
	}

	available, err := s.llm.TestLLM(ctx, llmID)
	if err != nil {
		return createJSONResult(map[string]interface{}{
			"available": false,
			"error":     err.Error(),
		})
	}

	return createJSONResult(map[string]interface{}{
		"available": available,
	})
}

// System handlers

func (s *Server) handleHealth(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolHealth, nil)
	var issues []string

	if !dirExists(s.config.WorkbooksDir()) {
		issues = append(issues, fmt.Sprintf("workbooks directory does not exist: %s", s.config.WorkbooksDir()))
	}

	if !global.FileExists(s.config.ConfigPath()) {
		issues = append(issues, fmt.Sprintf("config file missing: %s", s.config.ConfigPath()))
	}

	if !s.config.HasEnabledLLM() {
		issues = append(issues, "no LLMs are enabled - edit config.json and set enabled: true for at least one LLM")
	}

	if s.config.IsFirstRun() {
		issues = append(issues, "this is a first run - configuration was just created, please review and configure")
	}

	healthy := len(issues) == 0
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	result := map[string]interface{}{
		"status":       status,
		"healthy":      healthy,
		"program_name": global.ProgramName,
		"version":      global.Version,
		"config_path":  s.config.ConfigPath(),
		"first_run":    s.config.IsFirstRun(),
		"enabled_llms": len(s.config.EnabledLLMs()),
	}

	if len(issues) > 0 {
		result["issues"] = issues
	}

	return createJSONResult(result)
}

// Helper to check if directory exists
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
