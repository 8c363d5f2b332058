package sagasync

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var csvHeaderAliases = map[string]string{
	"title":            "title",
	"author":           "author",
	"authors":          "author",
	"author(s)":        "author",
	"asin":             "asin",
	"product id":       "asin",
	"purchase date":    "purchased",
	"purchased at":     "purchased",
	"date added":       "purchased",
	"listening status": "status",
	"status":           "status",
	"series title":     "series",
	"series":           "series",
	"series sequence":  "sequence",
	"sequence":         "sequence",
	"series order":     "sequence",
	"parent asin":      "parent",
	"series parent":    "parent",
}

var numericSequence = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ParseAudibleCSV reads a library export into import rows. Column names vary
// between export versions, so headers resolve through an alias table. Rows
// without an ASIN are skipped and repeated ASINs keep their first occurrence.
func ParseAudibleCSV(r io.Reader, source string) ([]ImportRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := map[string]int{}
	for i, name := range header {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := csvHeaderAliases[normalized]; ok {
			if _, taken := columns[canonical]; !taken {
				columns[canonical] = i
			}
		}
	}
	if _, ok := columns["asin"]; !ok {
		return nil, fmt.Errorf("%w: csv has no asin column", ErrInvalidInput)
	}

	var rows []ImportRow
	seen := map[string]bool{}
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		cell := func(name string) string {
			index, ok := columns[name]
			if !ok || index >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[index])
		}

		asin := cell("asin")
		if asin == "" || seen[asin] {
			continue
		}
		seen[asin] = true

		status := ParseStatusHint(cell("status"))
		if status == "" {
			status = StatusNotStarted
		}

		row := ImportRow{
			Title:            cell("title"),
			Author:           cell("author"),
			ASIN:             asin,
			PurchasedAt:      cell("purchased"),
			Status:           status,
			Source:           source,
			Owned:            true,
			SeriesNameHint:   cell("series"),
			SeriesParentASIN: cell("parent"),
		}
		if sequence := cell("sequence"); numericSequence.MatchString(sequence) {
			if order, parseErr := strconv.ParseFloat(sequence, 64); parseErr == nil {
				row.SeriesOrderHint = &order
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
