package importer

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/xuri/excelize/v2"
)

// DifficultyNotSpecified is the difficulty recorded for imported entries
const DifficultyNotSpecified = "not specified"

// maxErrors caps the row errors reported back to the caller
const maxErrors = 20

// Row is one parsed activity line of an import
type Row struct {
	Line     int    `json:"line"`
	Activity string `json:"activity"`
	Count    int    `json:"count"`
}

// Entry converts the row to a task entry
func (r Row) Entry() types.TaskEntry {
	return types.TaskEntry{
		Activity:   r.Activity,
		Count:      r.Count,
		Difficulty: DifficultyNotSpecified,
	}
}

// Result holds the usable rows of an import and the rejected ones
type Result struct {
	Rows   []Row    `json:"rows"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// Reject counts a failed row and keeps its message if there is room
func (r *Result) Reject(line int, err error) {
	r.Failed++
	if len(r.Errors) < maxErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("line %d: %v", line, err))
	}
}

func (r *Result) add(line int, cols []string) {
	row, err := parseRow(line, cols)
	if err != nil {
		r.Reject(line, err)
		return
	}
	r.Rows = append(r.Rows, row)
}

// ParseTSV reads tab-separated "activity<TAB>count" lines, as pasted from a
// spreadsheet. Blank lines are skipped; malformed lines are counted as failed.
func ParseTSV(r io.Reader) (Result, error) {
	var res Result
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		res.add(line, strings.Split(text, "\t"))
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("failed to read import: %w", err)
	}
	return res, nil
}

// ParseXLSX reads the first sheet of a workbook using the same two columns
// as ParseTSV
func ParseXLSX(r io.Reader) (Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Result{}, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Result{}, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	var res Result
	for i, cols := range rows {
		if blank(cols) {
			continue
		}
		res.add(i+1, cols)
	}
	return res, nil
}

func blank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseRow(line int, cols []string) (Row, error) {
	if len(cols) < 2 {
		return Row{}, fmt.Errorf("expected activity and count columns")
	}
	activity := strings.TrimSpace(cols[0])
	if activity == "" {
		return Row{}, fmt.Errorf("activity is empty")
	}
	count, err := parseCount(cols[1])
	if err != nil {
		return Row{}, err
	}
	return Row{Line: line, Activity: activity, Count: count}, nil
}

// parseCount accepts whole numbers with thousands separators ("1,250") and
// integral decimals as produced by spreadsheet cells ("12.0")
func parseCount(s string) (int, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("count must be positive, got %d", n)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	if f <= 0 {
		return 0, fmt.Errorf("count must be positive, got %v", f)
	}
	return int(f), nil
}
