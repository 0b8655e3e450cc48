package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// JSONParser reads pre-extracted layout JSON produced by an upstream
// conversion service. This is the richest input format: it carries explicit
// heading levels, typography flags, and table/figure records per page.
type JSONParser struct{}

func (p *JSONParser) SupportedFormats() []string { return []string{"json"} }

// jsonDocument is the on-disk shape of a pre-extracted document.
type jsonDocument struct {
	Subject    string     `json:"subject"`
	TotalPages int        `json:"total_pages"`
	Pages      []jsonPage `json:"pages"`
}

type jsonPage struct {
	PageNumber int           `json:"page_number"`
	Elements   []jsonElement `json:"elements"`
}

type jsonElement struct {
	Type     string  `json:"type"` // heading, paragraph, table, figure
	Level    int     `json:"level,omitempty"`
	Text     string  `json:"text,omitempty"`
	Label    string  `json:"label,omitempty"`
	Caption  string  `json:"caption,omitempty"`
	Bold     bool    `json:"bold,omitempty"`
	FontSize float64 `json:"font_size,omitempty"`
}

func (p *JSONParser) Parse(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading json document: %w", err)
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding json document: %w", err)
	}

	res := &Result{
		TotalPages: doc.TotalPages,
		Subject:    doc.Subject,
		Method:     "json",
	}

	for _, page := range doc.Pages {
		pno := page.PageNumber
		if pno > res.TotalPages {
			res.TotalPages = pno
		}

		for _, el := range page.Elements {
			switch el.Type {
			case "heading":
				res.Elements = append(res.Elements, Element{
					Kind:     KindHeading,
					Text:     el.Text,
					Depth:    el.Level,
					Page:     pno,
					Bold:     el.Bold,
					FontSize: el.FontSize,
				})
			case "paragraph", "":
				if el.Text == "" {
					continue
				}
				res.Elements = append(res.Elements, Element{
					Kind:     KindParagraph,
					Text:     el.Text,
					Page:     pno,
					Bold:     el.Bold,
					FontSize: el.FontSize,
				})
			case "table":
				label := el.Label
				if label == "" {
					label = strconv.Itoa(len(res.Tables) + 1)
				}
				res.Tables = append(res.Tables, Table{Label: label, Caption: el.Caption, Page: pno})
				if el.Text != "" {
					res.Elements = append(res.Elements, Element{Kind: KindTable, Text: el.Text, Page: pno})
				}
			case "figure":
				label := el.Label
				if label == "" {
					label = strconv.Itoa(len(res.Figures) + 1)
				}
				res.Figures = append(res.Figures, Figure{Label: label, Caption: el.Caption, Page: pno})
			}
		}
	}

	return res, nil
}
