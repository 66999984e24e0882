/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ClearClose/Vouch/global"
)

// Rule tool handlers

func (s *Server) handleRuleList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolRuleList, nil)

	result, err := s.rules.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(result)
}

func (s *Server) handleRuleGet(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "id", "")

	s.logToolCall(global.ToolRuleGet, map[string]string{"id": id})

	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	rule, err := s.rules.Get(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(rule)
}

func (s *Server) handleRuleCreate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	category := mcp.ParseString(request, "category", "")
	prompt := mcp.ParseString(request, "prompt", "")
	severity := mcp.ParseString(request, "severity", global.SeverityWarning)

	s.logToolCall(global.ToolRuleCreate, map[string]string{"name": name, "category": category})

	if name == "" {
		return mcp.NewToolResultError("name parameter is required"), nil
	}
	if category == "" {
		return mcp.NewToolResultError("category parameter is required"), nil
	}
	if prompt == "" {
		return mcp.NewToolResultError("prompt parameter is required"), nil
	}

	rule, err := s.rules.Create(name, category, prompt, severity)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(rule)
}

func (s *Server) handleRuleUpdate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "id", "")

	s.logToolCall(global.ToolRuleUpdate, map[string]string{"id": id})

	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	// Empty strings mean "leave unchanged"
	var name, category, prompt, severity *string
	if v := mcp.ParseString(request, "name", ""); v != "" {
		name = &v
	}
	if v := mcp.ParseString(request, "category", ""); v != "" {
		category = &v
	}
	if v := mcp.ParseString(request, "prompt", ""); v != "" {
		prompt = &v
	}
	if v := mcp.ParseString(request, "severity", ""); v != "" {
		severity = &v
	}

	rule, err := s.rules.Update(id, name, category, prompt, severity)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(rule)
}

func (s *Server) handleRuleDelete(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "id", "")

	s.logToolCall(global.ToolRuleDelete, map[string]string{"id": id})

	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	if err := s.rules.Delete(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(map[string]interface{}{
		"id":      id,
		"deleted": true,
	})
}

func (s *Server) handleRuleSearch(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyword := mcp.ParseString(request, "keyword", "")
	category := mcp.ParseString(request, "category", "")

	s.logToolCall(global.ToolRuleSearch, map[string]string{"keyword": keyword, "category": category})

	result, err := s.rules.Search(keyword, category)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(result)
}

func (s *Server) handleRuleCategories(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolRuleCategories, nil)

	categories, err := s.rules.Categories()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(map[string]interface{}{
		"categories": categories,
	})
}

func (s *Server) handleRuleExport(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolRuleExport, nil)

	data, err := s.rules.Export()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleRuleImport(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data := mcp.ParseString(request, "data", "")
	replace := mcp.ParseBoolean(request, "replace", false)

	s.logToolCall(global.ToolRuleImport, nil)

	if data == "" {
		return mcp.NewToolResultError("data parameter is required"), nil
	}

	imported, skipped, err := s.rules.Import([]byte(data), replace)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(map[string]interface{}{
		"imported": imported,
		"skipped":  skipped,
		"replaced": replace,
	})
}

// Rule suggestion handlers

func (s *Server) handleSuggestRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(request, "path", "")
	maxRules := int(mcp.ParseFloat64(request, "max_rules", 5))
	llmID := mcp.ParseString(request, "llm_id", "")

	s.logToolCall(global.ToolSuggestRules, map[string]string{"path": path, "llm_id": llmID})

	if path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}

	doc, err := s.extract.ExtractFile(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	suggestions, err := s.suggest.SuggestRules(ctx, llmID, doc.Content, maxRules)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(map[string]interface{}{
		"source":      path,
		"suggestions": suggestions,
	})
}

func (s *Server) handleEnhanceRule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "id", "")
	llmID := mcp.ParseString(request, "llm_id", "")

	s.logToolCall(global.ToolEnhanceRule, map[string]string{"id": id, "llm_id": llmID})

	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	rule, err := s.rules.Get(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	enhancement, err := s.suggest.EnhanceRule(ctx, llmID, rule)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(map[string]interface{}{
		"id":          id,
		"name":        rule.Name,
		"enhancement": enhancement,
	})
}
