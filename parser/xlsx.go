package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser treats each worksheet as one table on its own synthetic page.
// Row content is flattened to tab-delimited text so chunking and reference
// detection still see it; no cell-level parsing happens here.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xlsm"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	res := &Result{TotalPages: len(sheets), Method: "native"}

	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pno := i + 1

		res.Elements = append(res.Elements, Element{
			Kind:  KindHeading,
			Text:  sheet,
			Depth: 1,
			Page:  pno,
		})
		res.Tables = append(res.Tables, Table{
			Label:   strconv.Itoa(pno),
			Caption: sheet,
			Page:    pno,
		})

		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		var lines []string
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			res.Elements = append(res.Elements, Element{
				Kind: KindTable,
				Text: strings.Join(lines, "\n"),
				Page: pno,
			})
		}
	}

	return res, nil
}
