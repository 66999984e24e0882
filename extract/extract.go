/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package extract turns evidence files into text the engine can embed in
// prompts: single-file extraction via markdown conversion, and two-tier
// evidence archive processing into item document bundles.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
	"github.com/google/uuid"
	"github.com/tenebris-tech/x2md/convert"
)

// Service provides document and evidence-folder extraction
type Service struct {
	logger      *logging.Logger
	evidenceDir string // working directory for archive extraction
}

// NewService creates an extraction service
func NewService(evidenceDir string, logger *logging.Logger) *Service {
	return &Service{
		logger:      logger,
		evidenceDir: evidenceDir,
	}
}

// rawReadable lists extensions read directly without conversion
var rawReadable = map[string]bool{
	".txt": true,
	".md":  true,
	".csv": true,
}

// convertible lists extensions handled by the markdown converter
var convertible = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".xls":  true,
	".xlsx": true,
	".ppt":  true,
	".pptx": true,
}

// ExtractFile extracts the text content of a single document
func (s *Service) ExtractFile(path string) (*global.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory: %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))

	var content string
	switch {
	case rawReadable[ext]:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		if !global.IsValidUTF8(data) {
			return nil, fmt.Errorf("file is not valid UTF-8 text: %s", filepath.Base(path))
		}
		content = string(data)

	case convertible[ext]:
		converter := convert.New(
			convert.WithRecursion(false),
			convert.WithSkipExisting(true),
		)
		if _, err := converter.Convert(path); err != nil {
			return nil, fmt.Errorf("conversion failed: %w", err)
		}
		content, err = readConverted(path)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported file type: %s", ext)
	}

	return &global.Document{
		Path:      path,
		Type:      Classify(filepath.Base(path)),
		Extension: ext,
		Content:   content,
		Size:      len(content),
	}, nil
}

// readConverted reads the markdown file the converter wrote next to src
func readConverted(src string) (string, error) {
	mdPath := strings.TrimSuffix(src, filepath.Ext(src)) + ".md"
	data, err := os.ReadFile(mdPath)
	if err != nil {
		return "", fmt.Errorf("failed to read converted output %s: %w", mdPath, err)
	}
	return string(data), nil
}

// ProcessEvidenceZip extracts a two-tier evidence archive (item folders
// containing document files) into EvidenceData. Files sitting at the archive
// root belong to no item and are skipped.
func (s *Service) ProcessEvidenceZip(zipPath string) (*global.EvidenceData, error) {
	info, err := os.Stat(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access archive: %w", err)
	}
	if info.Size() > global.MaxEvidenceZipBytes {
		return nil, fmt.Errorf("archive exceeds size limit (%d bytes > %d)", info.Size(), int64(global.MaxEvidenceZipBytes))
	}

	// Extract into a fresh working directory
	destDir := filepath.Join(s.evidenceDir, uuid.New().String())
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(destDir) }()

	extracted, skipped, err := extractZipFile(zipPath, destDir, true, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to extract archive: %w", err)
	}
	s.logger.Infof("Extracted %d file(s) from %s (%d skipped)", extracted, filepath.Base(zipPath), skipped)

	if extracted == 0 {
		return nil, fmt.Errorf("archive contains no extractable files")
	}

	// Convert everything convertible in one recursive pass
	converter := convert.New(
		convert.WithRecursion(true),
		convert.WithSkipExisting(true),
	)
	if result, err := converter.Convert(destDir); err != nil {
		s.logger.Warnf("Document conversion failed: %v", err)
	} else if result.Failed > 0 {
		s.logger.Warnf("Document conversion: %d converted, %d failed", result.Converted, result.Failed)
	}

	data := &global.EvidenceData{
		Items:       make(map[string]global.EvidenceItem),
		ProcessedAt: time.Now(),
	}

	err = filepath.Walk(destDir, func(path string, fi os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if fi.IsDir() {
			return nil
		}

		rel, rerr := filepath.Rel(destDir, path)
		if rerr != nil {
			return rerr
		}

		itemID, ok := itemIDFor(rel)
		if !ok {
			return nil // file outside any item folder
		}

		ext := strings.ToLower(filepath.Ext(path))

		var content string
		switch {
		case rawReadable[ext]:
			// The converter's own .md output is read via its source file;
			// standalone .md/.txt evidence is read directly.
			if ext == ".md" {
				src := strings.TrimSuffix(path, ".md")
				if hasConvertibleSibling(src) {
					return nil
				}
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				s.logger.Warnf("Skipping unreadable file %s: %v", rel, err)
				return nil
			}
			content = string(raw)

		case convertible[ext]:
			var err error
			content, err = readConverted(path)
			if err != nil {
				s.logger.Warnf("Skipping unconverted file %s: %v", rel, err)
				return nil
			}

		default:
			return nil
		}

		name := filepath.Base(path)
		item, exists := data.Items[itemID]
		if !exists {
			item = global.EvidenceItem{
				ItemID:    itemID,
				Documents: make(map[string]global.Document),
			}
		}
		item.Documents[name] = global.Document{
			Path:      rel,
			Type:      Classify(name),
			Extension: ext,
			Content:   content,
			Size:      len(content),
		}
		data.Items[itemID] = item
		data.TotalDocs++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan extracted files: %w", err)
	}

	data.TotalItems = len(data.Items)
	if data.TotalItems == 0 {
		return nil, fmt.Errorf("archive has no item folders: expected one folder per evidence item")
	}

	s.logger.Infof("Processed evidence archive: %d item(s), %d document(s)", data.TotalItems, data.TotalDocs)
	return data, nil
}

// itemIDFor maps an extracted file's relative path to its evidence item id.
// Archives may carry a single wrapper folder: a/b/c.pdf belongs to item b,
// a/c.pdf belongs to item a, and a bare c.pdf belongs to no item.
func itemIDFor(rel string) (string, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch {
	case len(parts) >= 3:
		return parts[1], true
	case len(parts) == 2:
		return parts[0], true
	default:
		return "", false
	}
}

// hasConvertibleSibling reports whether src (an .md path minus extension
// candidate) matches a convertible source file on disk
func hasConvertibleSibling(base string) bool {
	for ext := range convertible {
		if _, err := os.Stat(base + ext); err == nil {
			return true
		}
	}
	return false
}

// Classify infers a document type from its file name. Evidence files are
// commonly named in Japanese, so the Japanese accounting terms match
// alongside the English ones.
func Classify(name string) string {
	lower := strings.ToLower(name)
	switch {
	case containsAny(lower, "invoice", "bill", "請求"):
		return "invoice"
	case containsAny(lower, "payment", "transfer", "remit", "入金", "明細"):
		return "payment"
	case containsAny(lower, "receipt", "領収"):
		return "receipt"
	case containsAny(lower, "contract", "agreement", "契約"):
		return "contract"
	default:
		return "other"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
