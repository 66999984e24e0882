/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

// extractZipFile extracts a zip archive to the specified directory.
// Returns counts of extracted and skipped files.
func extractZipFile(zipPath, destDir string, overwrite bool, logger *logging.Logger) (int, int, error) {
	// Open the zip file
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open zip file: %w", err)
	}
	defer func() { _ = r.Close() }()

	extracted := 0
	skipped := 0

	// Get absolute destination for security checks
	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve destination directory: %w", err)
	}

	for _, f := range r.File {
		// Clean and validate the path
		cleanName := filepath.Clean(f.Name)

		// Skip entries that try to escape
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			logger.Warnf("Skipping potentially unsafe path in zip: %s", f.Name)
			skipped++
			continue
		}

		destPath := filepath.Join(destDir, cleanName)

		// Verify the resolved path is within destination directory
		absDestPath, err := filepath.Abs(destPath)
		if err != nil || !global.IsPathWithin(absDestDir, absDestPath) {
			logger.Warnf("Skipping path that escapes destination: %s", f.Name)
			skipped++
			continue
		}

		// Handle directories
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return extracted, skipped, fmt.Errorf("failed to create directory %s: %w", cleanName, err)
			}
			continue
		}

		// Check for overwrite
		if !overwrite {
			if _, err := os.Stat(destPath); err == nil {
				skipped++
				continue
			}
		}

		// Ensure parent directory exists
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return extracted, skipped, fmt.Errorf("failed to create parent directory for %s: %w", cleanName, err)
		}

		// Extract the file
		if err := extractZipEntry(f, destPath); err != nil {
			return extracted, skipped, fmt.Errorf("failed to extract %s: %w", cleanName, err)
		}

		extracted++
	}

	return extracted, skipped, nil
}

// extractZipEntry extracts a single file from a zip archive
func extractZipEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer func() { _ = outFile.Close() }()

	_, err = io.Copy(outFile, rc)
	return err
}
