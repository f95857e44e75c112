// Package importer loads promo codes from CSV into the inventory.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Row is one parsed CSV line. Zero values mean "not given".
type Row struct {
	Line      int
	Code      string
	ExpiresAt *time.Time
	MaxUses   int
	Campaign  string
}

var expiryLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseCSV reads rows in the form code,expiresAt,maxUses,campaign. Only the
// code column is required. A first row whose first cell is "code" is a header.
// Unparsable expiry or max-uses values are ignored.
func ParseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	var rows []Row
	for first := true; ; first = false {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		line, _ := reader.FieldPos(0)

		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		if first && strings.EqualFold(record[0], "code") {
			continue
		}
		if record[0] == "" {
			continue
		}

		row := Row{Line: line, Code: record[0]}
		if len(record) > 1 && record[1] != "" {
			row.ExpiresAt = parseExpiry(record[1])
		}
		if len(record) > 2 && record[2] != "" {
			if n, err := strconv.Atoi(record[2]); err == nil && n > 0 {
				row.MaxUses = n
			}
		}
		if len(record) > 3 {
			row.Campaign = record[3]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseExpiry(s string) *time.Time {
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
