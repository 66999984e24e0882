/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/reporting"
)

// Document and evidence handlers

func (s *Server) handleFileExtract(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(request, "path", "")

	s.logToolCall(global.ToolFileExtract, map[string]string{"path": path})

	if path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}

	doc, err := s.extract.ExtractFile(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(doc)
}

func (s *Server) handleFolderProcess(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(request, "path", "")

	s.logToolCall(global.ToolFolderProcess, map[string]string{"path": path})

	if path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}

	evidence, err := s.extract.ProcessEvidenceZip(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(evidence)
}

// Workbook handlers

func (s *Server) handleWorkbookLoad(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")

	s.logToolCall(global.ToolWorkbookLoad, map[string]string{"name": name})

	if name == "" {
		return mcp.NewToolResultError("name parameter is required"), nil
	}

	wb, err := s.workbooks.Load(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(map[string]interface{}{
		"name":   wb.Name(),
		"sheets": wb.SheetNames(),
	})
}

func (s *Server) handleWorkbookExport(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	sheet := mcp.ParseString(request, "sheet", "")

	s.logToolCall(global.ToolWorkbookExport, map[string]string{"name": name, "sheet": sheet})

	if name == "" {
		return mcp.NewToolResultError("name parameter is required"), nil
	}
	if sheet == "" {
		return mcp.NewToolResultError("sheet parameter is required"), nil
	}

	wb, err := s.workbooks.Load(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := wb.ExportCSV(sheet)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(data)), nil
}

// Report handler

func (s *Server) handleReportGenerate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := mcp.ParseString(request, "kind", "run")
	format := mcp.ParseString(request, "format", "markdown")
	templatePath := mcp.ParseString(request, "template", "")
	save := mcp.ParseBoolean(request, "save", false)

	s.logToolCall(global.ToolReportGenerate, map[string]string{"kind": kind, "format": format})

	s.mu.Lock()
	lastRun := s.lastRun
	lastCheck := s.lastCheck
	s.mu.Unlock()

	var content string
	var err error
	var prefix string

	switch kind {
	case "run":
		if lastRun == nil {
			return mcp.NewToolResultError("no task run available: run task_run first"), nil
		}
		prefix = "run"
		if templatePath != "" {
			resolved, perr := global.ValidatePathWithinDir(s.config.ReportsDir(), templatePath)
			if perr != nil {
				return mcp.NewToolResultError(perr.Error()), nil
			}
			content = s.reporter.RenderWithTemplate(lastRun, resolved)
		} else if format == "json" {
			content, err = s.reporter.GenerateJSON(lastRun)
		} else {
			content, err = s.reporter.RunMarkdown(lastRun)
		}
	case "check":
		if lastCheck == nil {
			return mcp.NewToolResultError("no invoice check available: run invoice_check first"), nil
		}
		prefix = "check"
		if format == "json" {
			content, err = s.reporter.GenerateJSON(lastCheck)
		} else {
			content, err = s.reporter.CheckMarkdown(lastCheck)
		}
	default:
		return mcp.NewToolResultError("kind must be 'run' or 'check'"), nil
	}

	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if save {
		outputPath := filepath.Join(s.config.ReportsDir(), reporting.GenerateFilename(prefix, format))
		switch kind {
		case "run":
			err = s.reporter.SaveRunReport(lastRun, outputPath, format)
		case "check":
			err = s.reporter.SaveCheckReport(lastCheck, outputPath, format)
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return createJSONResult(map[string]interface{}{
			"saved":  true,
			"path":   outputPath,
			"format": format,
		})
	}

	return mcp.NewToolResultText(content), nil
}
