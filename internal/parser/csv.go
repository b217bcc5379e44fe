package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSVParser handles quotes exported as spreadsheets: one row per line item,
// first row as headers.
type CSVParser struct{}

// csvBatchSize is the number of rows grouped in one section.
const csvBatchSize = 40

func (p *CSVParser) Parse(r io.Reader, filename string) (*Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comma = sniffComma(data)

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	src := &Source{Title: trimExt(filename)}
	if len(records) == 0 {
		return src, nil
	}

	headers := records[0]
	header := strings.Join(headers, " | ")
	dataRows := records[1:]

	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := min(i+csvBatchSize, len(dataRows))

		var text strings.Builder
		text.WriteString(header)
		text.WriteString("\n")
		for _, row := range dataRows[i:end] {
			text.WriteString(strings.Join(row, " | "))
			text.WriteString("\n")
		}

		src.Sections = append(src.Sections, &Section{
			Title: fmt.Sprintf("Rows %d-%d", i+2, end+1), // 1-indexed, skip header
			Text:  strings.TrimRight(text.String(), "\n"),
		})
	}

	return src, nil
}

// sniffComma picks the separator of the header line. French spreadsheet
// exports use ';' since ',' is the decimal mark.
func sniffComma(data []byte) rune {
	first, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(",")) {
		return ';'
	}
	return ','
}
