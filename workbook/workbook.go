/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package workbook is the destination writer for structured task output: an
// in-memory sheet model persisted as a JSON workbook file, with CSV export.
package workbook

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ClearClose/Vouch/engine"
	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

// Sheet holds one sheet's cells keyed by A1-style address
type Sheet struct {
	Name  string                 `json:"name"`
	Cells map[string]interface{} `json:"cells"`
}

// workbookFile is the on-disk document
type workbookFile struct {
	Name      string            `json:"name"`
	Sheets    map[string]*Sheet `json:"sheets"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Workbook is an in-memory workbook bound to a JSON file. It satisfies
// engine.Writer; the engine mutates it only after dispatch completes.
type Workbook struct {
	mu     sync.Mutex
	path   string
	name   string
	sheets map[string]*Sheet
	loaded bool
	logger *logging.Logger
}

// Manager loads and creates workbooks in a storage directory
type Manager struct {
	dir    string
	logger *logging.Logger
}

// NewManager creates a workbook manager rooted at dir
func NewManager(dir string, logger *logging.Logger) *Manager {
	return &Manager{dir: dir, logger: logger}
}

// Load opens the named workbook, creating an empty one if it does not exist
func (m *Manager) Load(name string) (*Workbook, error) {
	if name == "" {
		return nil, fmt.Errorf("workbook name cannot be empty")
	}
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("workbook name cannot contain path separators: %s", name)
	}

	wb := &Workbook{
		path:   filepath.Join(m.dir, name+".json"),
		name:   name,
		sheets: make(map[string]*Sheet),
		logger: m.logger,
	}

	data, err := os.ReadFile(wb.path)
	if err != nil {
		if os.IsNotExist(err) {
			wb.loaded = true
			m.logger.Infof("Created new workbook: %s", name)
			return wb, nil
		}
		return nil, fmt.Errorf("failed to read workbook %s: %w", name, err)
	}

	var wf workbookFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workbook %s: %w", name, err)
	}
	if wf.Sheets != nil {
		wb.sheets = wf.Sheets
	}
	wb.loaded = true

	m.logger.Infof("Loaded workbook %s: %d sheet(s)", name, len(wb.sheets))
	return wb, nil
}

// Name returns the workbook's name
func (w *Workbook) Name() string {
	return w.name
}

// Ready reports whether the workbook is loaded and can accept writes
func (w *Workbook) Ready() bool {
	return w != nil && w.loaded
}

// SheetNames returns the workbook's sheet names, sorted
func (w *Workbook) SheetNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.sheets))
	for name := range w.sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteRecords writes a header row at startRow and one row per record below
// it, in the schema's column order. The reserved row_number column is filled
// with the record's ordinal. Returns the written row count (excluding the
// header) and an A1-style range descriptor, then persists the workbook.
func (w *Workbook) WriteRecords(sheetName string, startRow int, schema *global.OutputSchema, records []map[string]interface{}) (*engine.WriteReceipt, error) {
	if !w.Ready() {
		return nil, fmt.Errorf("workbook is not loaded")
	}
	if startRow < 1 {
		return nil, fmt.Errorf("start row must be at least 1")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	sheet, ok := w.sheets[sheetName]
	if !ok {
		sheet = &Sheet{Name: sheetName, Cells: make(map[string]interface{})}
		w.sheets[sheetName] = sheet
	}
	if sheet.Cells == nil {
		sheet.Cells = make(map[string]interface{})
	}

	letters := schema.ColumnLetters()

	// Header row
	for _, letter := range letters {
		sheet.Cells[fmt.Sprintf("%s%d", letter, startRow)] = schema.Columns[letter].Header
	}

	// Data rows
	for i, rec := range records {
		row := startRow + 1 + i
		for _, letter := range letters {
			col := schema.Columns[letter]
			addr := fmt.Sprintf("%s%d", letter, row)
			if col.Key == global.ReservedRowNumberKey {
				sheet.Cells[addr] = i + 1
				continue
			}
			if val, ok := rec[col.Key]; ok && val != nil {
				sheet.Cells[addr] = val
			}
		}
	}

	lastRow := startRow + len(records)
	rangeDesc := fmt.Sprintf("%s!%s%d:%s%d", sheetName, letters[0], startRow, letters[len(letters)-1], lastRow)

	if err := w.save(); err != nil {
		return nil, err
	}

	w.logger.Infof("Wrote %d row(s) to %s", len(records), rangeDesc)

	return &engine.WriteReceipt{
		WrittenRows: len(records),
		Range:       rangeDesc,
	}, nil
}

// save persists the workbook atomically; callers hold the mutex
func (w *Workbook) save() error {
	wf := workbookFile{
		Name:      w.name,
		Sheets:    w.sheets,
		UpdatedAt: time.Now(),
	}

	data, err := json.MarshalIndent(&wf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workbook: %w", err)
	}

	return global.AtomicWrite(w.path, data)
}

// cellAddrRegex splits an A1-style address into letters and row number
var cellAddrRegex = regexp.MustCompile(`^([A-Z]+)([0-9]+)$`)

// ExportCSV renders one sheet as CSV, covering the sheet's used range.
// Empty cells render as empty fields.
func (w *Workbook) ExportCSV(sheetName string) ([]byte, error) {
	if !w.Ready() {
		return nil, fmt.Errorf("workbook is not loaded")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	sheet, ok := w.sheets[sheetName]
	if !ok {
		return nil, fmt.Errorf("sheet not found: %s", sheetName)
	}

	maxCol, maxRow := 0, 0
	type cellRef struct {
		col, row int
		val      interface{}
	}
	var cells []cellRef

	for addr, val := range sheet.Cells {
		m := cellAddrRegex.FindStringSubmatch(addr)
		if m == nil {
			continue
		}
		col := columnIndex(m[1])
		row, _ := strconv.Atoi(m[2])
		if col > maxCol {
			maxCol = col
		}
		if row > maxRow {
			maxRow = row
		}
		cells = append(cells, cellRef{col: col, row: row, val: val})
	}

	if maxRow == 0 {
		return []byte{}, nil
	}

	grid := make([][]string, maxRow)
	for i := range grid {
		grid[i] = make([]string, maxCol)
	}
	for _, c := range cells {
		grid[c.row-1][c.col-1] = cellString(c.val)
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	for _, row := range grid {
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// cellString formats a cell value for export
func cellString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// columnIndex converts column letters to a 1-based index (A=1, AA=27)
func columnIndex(letters string) int {
	n := 0
	for i := 0; i < len(letters); i++ {
		n = n*26 + int(letters[i]-'A') + 1
	}
	return n
}
