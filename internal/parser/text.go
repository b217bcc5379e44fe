package parser

import (
	"bufio"
	"io"
	"strings"
)

// TextParser handles plain text quotes, typically pdftotext output. Form
// feeds separate pages; blank lines separate paragraphs.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*Source, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	src := &Source{Title: trimExt(filename)}
	page := 1
	paged := false
	pageHasText := false
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			src.Sections = append(src.Sections, &Section{Text: current.String(), Page: page})
			current.Reset()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		for {
			before, after, found := strings.Cut(line, "\f")
			if !found {
				break
			}
			if strings.TrimSpace(before) != "" {
				pageHasText = true
				if current.Len() > 0 {
					current.WriteString("\n")
				}
				current.WriteString(before)
			}
			flush()
			page++
			paged = true
			pageHasText = false
			line = after
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
		pageHasText = true
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if paged {
		src.Pages = page
		if !pageHasText {
			src.Pages-- // trailing form feed
		}
	} else {
		for _, s := range src.Sections {
			s.Page = 0
		}
	}
	return src, nil
}
