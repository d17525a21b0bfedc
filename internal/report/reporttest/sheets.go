// Package reporttest provides an in-memory report.Sheets.
package reporttest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/report"
)

// Sheets keeps one grid per (report, sheet). Cells are stored as strings.
type Sheets struct {
	mu      sync.Mutex
	set     domain.CategorySet
	reports map[string]map[string][][]string
	byName  map[string]string
	calls   map[string]int

	// Optional fault injection.
	GetOrCreateErr func(c *domain.Customer) error
	ReadErr        func(rng string) error
	WriteErr       func(rng string) error
	AppendErr      func(sheet string) error
}

var _ report.Sheets = (*Sheets)(nil)

// New creates an empty fake whose new reports are initialised from set.
func New(set domain.CategorySet) *Sheets {
	return &Sheets{
		set:     set,
		reports: make(map[string]map[string][][]string),
		byName:  make(map[string]string),
		calls:   make(map[string]int),
	}
}

// Calls returns how many times the named method was invoked.
func (s *Sheets) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Cell returns the value at a single A1 cell such as "Budget!C2".
func (s *Sheets) Cell(reportID, a1 string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, r, err := parseRange(a1)
	if err != nil {
		return ""
	}
	grid := s.reports[reportID][sheet]
	if r.row0 < 0 || r.row0 >= len(grid) || r.col0 >= len(grid[r.row0]) {
		return ""
	}
	return grid[r.row0][r.col0]
}

// Rows returns a copy of a sheet's grid.
func (s *Sheets) Rows(reportID, sheet string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	grid := s.reports[reportID][sheet]
	out := make([][]string, len(grid))
	for i, row := range grid {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// SetCell overwrites one cell, as a person editing the sheet would.
func (s *Sheets) SetCell(reportID, a1, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, r, err := parseRange(a1)
	if err != nil {
		return
	}
	s.put(reportID, sheet, r.row0, r.col0, value)
}

func (s *Sheets) GetOrCreateReport(ctx context.Context, c *domain.Customer) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["GetOrCreateReport"]++
	if s.GetOrCreateErr != nil {
		if err := s.GetOrCreateErr(c); err != nil {
			return "", err
		}
	}

	if c.ReportID != "" {
		return c.ReportID, nil
	}
	if id, ok := s.byName[c.ID]; ok {
		c.ReportID = id
		return id, nil
	}

	id := "report-" + c.ID
	s.byName[c.ID] = id
	s.reports[id] = map[string][][]string{
		report.BudgetSheet: toStrings(report.BudgetTemplate(s.set)),
		report.RawSheet:    toStrings([][]interface{}{report.RawHeader}),
	}
	c.ReportID = id
	return id, nil
}

func (s *Sheets) ReadRange(ctx context.Context, reportID, rng string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ReadRange"]++
	if s.ReadErr != nil {
		if err := s.ReadErr(rng); err != nil {
			return nil, err
		}
	}

	sheet, r, err := parseRange(rng)
	if err != nil {
		return nil, err
	}
	grid, ok := s.reports[reportID][sheet]
	if !ok {
		return nil, fmt.Errorf("reporttest: no sheet %q in %q", sheet, reportID)
	}

	last := r.row1
	if last < 0 || last >= len(grid) {
		last = len(grid) - 1
	}
	var out [][]string
	for i := r.row0; i <= last; i++ {
		var row []string
		for j := r.col0; j <= r.col1 && j < len(grid[i]); j++ {
			row = append(row, grid[i][j])
		}
		out = append(out, row)
	}
	// Sheets omits trailing empty rows.
	for len(out) > 0 && isEmpty(out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (s *Sheets) WriteRange(ctx context.Context, reportID, rng string, values [][]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["WriteRange"]++
	if s.WriteErr != nil {
		if err := s.WriteErr(rng); err != nil {
			return err
		}
	}

	sheet, r, err := parseRange(rng)
	if err != nil {
		return err
	}
	for i, row := range values {
		for j, v := range row {
			s.put(reportID, sheet, r.row0+i, r.col0+j, fmt.Sprint(v))
		}
	}
	return nil
}

func (s *Sheets) AppendRows(ctx context.Context, reportID, sheet string, values [][]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["AppendRows"]++
	if s.AppendErr != nil {
		if err := s.AppendErr(sheet); err != nil {
			return err
		}
	}

	if _, ok := s.reports[reportID]; !ok {
		return fmt.Errorf("reporttest: no report %q", reportID)
	}
	s.reports[reportID][sheet] = append(s.reports[reportID][sheet], toStrings(values)...)
	return nil
}

// put writes one cell, growing the grid as needed. Callers hold s.mu.
func (s *Sheets) put(reportID, sheet string, row, col int, value string) {
	if s.reports[reportID] == nil {
		s.reports[reportID] = make(map[string][][]string)
	}
	grid := s.reports[reportID][sheet]
	for len(grid) <= row {
		grid = append(grid, nil)
	}
	for len(grid[row]) <= col {
		grid[row] = append(grid[row], "")
	}
	grid[row][col] = value
	s.reports[reportID][sheet] = grid
}

// cellRange is a 0-based inclusive rectangle; row1 < 0 means open-ended.
type cellRange struct {
	row0, col0, row1, col1 int
}

// parseRange understands "Sheet!B:B", "Sheet!C5" and "Sheet!A7:N7".
func parseRange(rng string) (string, cellRange, error) {
	sheet, ref, ok := strings.Cut(rng, "!")
	if !ok {
		return "", cellRange{}, fmt.Errorf("reporttest: range %q has no sheet", rng)
	}

	from, to, hasTo := strings.Cut(ref, ":")
	c0, r0, err := parseCell(from)
	if err != nil {
		return "", cellRange{}, err
	}
	c1, r1 := c0, r0
	if hasTo {
		if c1, r1, err = parseCell(to); err != nil {
			return "", cellRange{}, err
		}
	}

	out := cellRange{row0: r0, col0: c0, row1: r1, col1: c1}
	if r0 < 0 {
		out.row0, out.row1 = 0, -1
	}
	return sheet, out, nil
}

// parseCell returns 0-based column and row; row is -1 for a bare column.
func parseCell(ref string) (int, int, error) {
	i := 0
	col := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	if i == 0 {
		return 0, 0, fmt.Errorf("reporttest: bad cell %q", ref)
	}
	if i == len(ref) {
		return col - 1, -1, nil
	}
	row, err := strconv.Atoi(ref[i:])
	if err != nil || row < 1 {
		return 0, 0, fmt.Errorf("reporttest: bad cell %q", ref)
	}
	return col - 1, row - 1, nil
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		for _, v := range row {
			out[i] = append(out[i], fmt.Sprint(v))
		}
	}
	return out
}

func isEmpty(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
