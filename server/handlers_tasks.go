/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ClearClose/Vouch/checker"
	"github.com/ClearClose/Vouch/engine"
	"github.com/ClearClose/Vouch/global"
)

// Task configuration handlers

func (s *Server) handleTaskList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolTaskList, nil)

	result, err := s.tasks.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(result)
}

func (s *Server) handleTaskGet(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "id", "")

	s.logToolCall(global.ToolTaskGet, map[string]string{"id": id})

	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	task, err := s.tasks.GetTask(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(task)
}

func (s *Server) handleTaskCreate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	description := mcp.ParseString(request, "description", "")
	promptTemplate := mcp.ParseString(request, "prompt_template", "")
	schemaJSON := mcp.ParseString(request, "schema", "")

	s.logToolCall(global.ToolTaskCreate, map[string]string{"name": name})

	if name == "" {
		return mcp.NewToolResultError("name parameter is required"), nil
	}
	if promptTemplate == "" {
		return mcp.NewToolResultError("prompt_template parameter is required"), nil
	}
	if schemaJSON == "" {
		return mcp.NewToolResultError("schema parameter is required"), nil
	}

	var schema global.OutputSchema
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid schema JSON: %v", err)), nil
	}

	task, err := s.tasks.Create(name, description, promptTemplate, schema)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(task)
}

// Execution handlers

func (s *Server) handleInvoiceCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ruleIDs := mcp.ParseString(request, "rule_ids", "")
	llmID := mcp.ParseString(request, "llm_id", "")
	maxWorkers := int(mcp.ParseFloat64(request, "max_workers", 0))

	files := parseStringArray(request, "files")

	s.logToolCall(global.ToolInvoiceCheck, map[string]string{
		"files": fmt.Sprintf("%d", len(files)), "llm_id": llmID,
	})

	if len(files) == 0 {
		return mcp.NewToolResultError("files parameter is required: a JSON array of invoice file paths"), nil
	}

	selected, err := s.selectRules(ruleIDs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.checker.Check(ctx, &checker.Request{
		Files:      files,
		Rules:      selected,
		LLMID:      llmID,
		MaxWorkers: maxWorkers,
		Progress: func(completed, total int, itemID string) {
			s.logger.Infof("Invoice check progress: %d/%d (%s)", completed, total, itemID)
		},
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.mu.Lock()
	s.lastCheck = s.reporter.BuildCheckReport(result.Reports, result.ElapsedSec)
	s.mu.Unlock()

	return createJSONResult(result)
}

func (s *Server) handleTaskRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	evidenceZip := mcp.ParseString(request, "evidence_zip", "")
	workbookName := mcp.ParseString(request, "workbook", "")
	instruction := mcp.ParseString(request, "instruction", "")
	schemaJSON := mcp.ParseString(request, "schema", "")
	llmID := mcp.ParseString(request, "llm_id", "")
	maxWorkers := int(mcp.ParseFloat64(request, "max_workers", 0))

	s.logToolCall(global.ToolTaskRun, map[string]string{
		"task_id": taskID, "evidence_zip": evidenceZip, "workbook": workbookName,
	})

	if taskID == "" {
		return mcp.NewToolResultError("task_id parameter is required"), nil
	}
	if evidenceZip == "" {
		return mcp.NewToolResultError("evidence_zip parameter is required"), nil
	}
	if workbookName == "" {
		return mcp.NewToolResultError("workbook parameter is required"), nil
	}

	var schema *global.OutputSchema
	if schemaJSON != "" {
		schema = &global.OutputSchema{}
		if err := json.Unmarshal([]byte(schemaJSON), schema); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid schema JSON: %v", err)), nil
		}
	}

	evidence, err := s.extract.ProcessEvidenceZip(evidenceZip)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	wb, err := s.workbooks.Load(workbookName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := s.engine.Execute(ctx, &engine.ExecuteRequest{
		TaskID:      taskID,
		Items:       evidenceToWorkItems(evidence),
		Schema:      schema,
		Instruction: instruction,
		LLMID:       llmID,
		MaxWorkers:  maxWorkers,
		Writer:      wb,
		Progress: func(completed, total int, itemID string) {
			s.logger.Infof("Task %s progress: %d/%d (%s)", taskID, completed, total, itemID)
		},
	})

	s.mu.Lock()
	s.lastRun = s.reporter.BuildRunReport(result)
	s.mu.Unlock()

	return createJSONResult(result)
}

// selectRules resolves a comma-separated id list, or all rules when empty
func (s *Server) selectRules(ruleIDs string) ([]global.Rule, error) {
	all, err := s.rules.List()
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(ruleIDs) == "" {
		return all.Rules, nil
	}

	byID := make(map[string]global.Rule, len(all.Rules))
	for _, rule := range all.Rules {
		byID[rule.ID] = rule
	}

	var selected []global.Rule
	for _, id := range strings.Split(ruleIDs, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		rule, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("rule not found: %s", id)
		}
		selected = append(selected, rule)
	}

	return selected, nil
}

// evidenceToWorkItems flattens evidence items into work items with one
// payload per item, documents concatenated in name order
func evidenceToWorkItems(evidence *global.EvidenceData) []engine.WorkItem {
	ids := make([]string, 0, len(evidence.Items))
	for id := range evidence.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]engine.WorkItem, 0, len(ids))
	for _, id := range ids {
		ev := evidence.Items[id]

		names := make([]string, 0, len(ev.Documents))
		for name := range ev.Documents {
			names = append(names, name)
		}
		sort.Strings(names)

		var b strings.Builder
		for _, name := range names {
			doc := ev.Documents[name]
			b.WriteString(fmt.Sprintf("--- %s (%s) ---\n", name, doc.Type))
			b.WriteString(doc.Content)
			b.WriteString("\n\n")
		}

		items = append(items, engine.WorkItem{
			ItemID:  id,
			Payload: b.String(),
			Context: fmt.Sprintf("%d document(s): %s", len(names), strings.Join(names, ", ")),
		})
	}

	return items
}

// parseStringArray reads an undeclared array argument as []string
func parseStringArray(request mcp.CallToolRequest, key string) []string {
	args := request.GetArguments()
	val, ok := args[key]
	if !ok {
		return nil
	}

	// Round-trip through JSON to cope with []interface{} values
	var out []string
	if data, err := json.Marshal(val); err == nil {
		if err := json.Unmarshal(data, &out); err == nil {
			return out
		}
	}

	// Single string fallback
	if str, ok := val.(string); ok && str != "" {
		return []string{str}
	}

	return nil
}
