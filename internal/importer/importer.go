package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("importer: unsupported file format")
	ErrEmpty             = errors.New("importer: no destinations found")
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// MaxRows bounds one upload.
const MaxRows = 100000

// headerNames are accepted (case-insensitive) names for the destination column.
var headerNames = []string{"destination", "phone", "phone_number", "number", "msisdn"}

// Rejected is a row that did not hold a dialable number.
type Rejected struct {
	Row    int    `json:"row"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// Result is the outcome of reading one upload. Destinations keep file order;
// duplicates are left for the campaign to drop.
type Result struct {
	Destinations []string   `json:"-"`
	Accepted     int        `json:"accepted"`
	Rejected     []Rejected `json:"rejected,omitempty"`
}

// FormatFromName picks a format from a file name's extension.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// Read extracts destinations from r. A header row naming a destination column
// selects that column; otherwise the first column is used and a non-numeric
// first row is treated as a header.
func Read(r io.Reader, format Format) (Result, error) {
	var rows [][]string
	var err error
	switch format {
	case FormatCSV:
		rows, err = readCSV(r)
	case FormatXLSX:
		rows, err = readXLSX(r)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return Result{}, err
	}
	return extract(rows)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
		if len(rows) > MaxRows+1 {
			return nil, fmt.Errorf("importer: more than %d rows", MaxRows)
		}
	}
	return rows, nil
}

// readXLSX reads the first sheet.
func readXLSX(r io.Reader) ([][]string, error) {
	xl, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = xl.Close() }()

	sheet := xl.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmpty
	}
	rows, err := xl.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) > MaxRows+1 {
		return nil, fmt.Errorf("importer: more than %d rows", MaxRows)
	}
	return rows, nil
}

func extract(rows [][]string) (Result, error) {
	col, start := 0, 0
	if len(rows) > 0 {
		if idx, ok := headerColumn(rows[0]); ok {
			col, start = idx, 1
		} else if len(rows[0]) > 0 {
			if _, ok := Normalize(rows[0][0]); !ok {
				start = 1
			}
		}
	}

	var out Result
	for i := start; i < len(rows); i++ {
		row := rows[i]
		if len(row) <= col || strings.TrimSpace(row[col]) == "" {
			continue
		}
		raw := row[col]
		n, ok := Normalize(raw)
		if !ok {
			out.Rejected = append(out.Rejected, Rejected{Row: i + 1, Value: raw, Reason: "not a dialable number"})
			continue
		}
		out.Destinations = append(out.Destinations, n)
	}
	out.Accepted = len(out.Destinations)
	if out.Accepted == 0 {
		return out, ErrEmpty
	}
	return out, nil
}

func headerColumn(header []string) (int, bool) {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, name := range headerNames {
			if h == name {
				return i, true
			}
		}
	}
	return 0, false
}

// Normalize strips formatting a spreadsheet commonly carries (spaces, dashes,
// dots, parentheses, a leading "+") and reports whether what remains is 1-20
// digits.
func Normalize(raw string) (string, bool) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	s := b.String()
	if s == "" || len(s) > 20 {
		return "", false
	}
	return s, true
}
