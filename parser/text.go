package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TextParser handles plain text (.txt) files. Form feeds delimit pages;
// without them the whole file is one page. Blank lines delimit paragraphs.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	res := &Result{Method: "native"}
	pages := strings.Split(string(data), "\f")
	res.TotalPages = len(pages)

	for i, pageText := range pages {
		pno := i + 1
		for _, block := range strings.Split(pageText, "\n\n") {
			block = strings.TrimSpace(block)
			if block == "" {
				continue
			}
			if depth := markdownHeading(block); depth > 0 {
				res.Elements = append(res.Elements, Element{
					Kind:  KindHeading,
					Text:  strings.TrimLeft(strings.TrimLeft(block, "#"), " "),
					Depth: depth,
					Page:  pno,
				})
				continue
			}
			res.Elements = append(res.Elements, Element{
				Kind: KindParagraph,
				Text: block,
				Page: pno,
			})
		}
	}

	return res, nil
}

// markdownHeading returns the depth of a single-line markdown heading,
// or 0 when the block is not one.
func markdownHeading(block string) int {
	if strings.ContainsRune(block, '\n') || !strings.HasPrefix(block, "#") {
		return 0
	}
	depth := 0
	for depth < len(block) && block[depth] == '#' {
		depth++
	}
	if depth > 6 || depth >= len(block) || block[depth] != ' ' {
		return 0
	}
	return depth
}
