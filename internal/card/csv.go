package card

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVHeader is the column order of a card import file
var CSVHeader = []string{"id", "name", "type", "cost", "power", "health", "ability", "description", "rarity"}

// RowError reports an import row that could not be used
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// ReadCSV parses an import file. The header row must match CSVHeader. Rows
// that fail validation are reported and skipped; a malformed file fails as a
// whole.
func ReadCSV(r io.Reader) ([]Record, []error, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(CSVHeader)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("empty card file")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, col := range CSVHeader {
		if strings.ToLower(strings.TrimSpace(header[i])) != col {
			return nil, nil, fmt.Errorf("unexpected column %q at position %d, want %q", header[i], i+1, col)
		}
	}

	var (
		records []Record
		skipped []error
	)
	seen := make(map[string]int)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read cards: %w", err)
		}
		line, _ := reader.FieldPos(0)

		rec, err := parseRow(row)
		if err == nil {
			_, err = FromRecord(rec)
		}
		if err == nil {
			if first, dup := seen[rec.ID]; dup {
				err = fmt.Errorf("duplicate card id %s (first on line %d)", rec.ID, first)
			}
		}
		if err != nil {
			skipped = append(skipped, &RowError{Line: line, Err: err})
			continue
		}
		seen[rec.ID] = line
		records = append(records, rec)
	}
	return records, skipped, nil
}

func parseRow(row []string) (Record, error) {
	ints := make([]int, 3)
	for i, col := range []int{3, 4, 5} {
		n, err := strconv.Atoi(strings.TrimSpace(row[col]))
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", CSVHeader[col], err)
		}
		ints[i] = n
	}
	return Record{
		ID:          strings.TrimSpace(row[0]),
		Name:        strings.TrimSpace(row[1]),
		Type:        strings.ToUpper(strings.TrimSpace(row[2])),
		Cost:        ints[0],
		Power:       ints[1],
		Health:      ints[2],
		Ability:     strings.ToLower(strings.TrimSpace(row[6])),
		Description: row[7],
		Rarity:      strings.ToUpper(strings.TrimSpace(row[8])),
	}, nil
}
