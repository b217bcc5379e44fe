// Package chunker cuts a parsed quote into prompt-sized pieces. Small
// sections are packed together so a short lot is never sent alone, and
// sections too large for one prompt are split on paragraph then sentence
// boundaries with some overlap.
package chunker

import (
	"strings"

	"github.com/dgallion1/devistree/internal/parser"
)

// Chunk is one extraction prompt's worth of source text.
type Chunk struct {
	Text       string
	Index      int
	Breadcrumb []string // headings shared by every section in the chunk
	PageStart  int      // 0 when the source has no pages
	PageEnd    int
}

// Config controls chunking behavior.
type Config struct {
	ChunkSize    int // Target chunk size in tokens.
	ChunkOverlap int // Overlap between split parts of one section, in tokens.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    3000,
		ChunkOverlap: 200,
	}
}

type piece struct {
	text       string
	breadcrumb []string
	page       int
}

// ChunkSource walks the sections of src in document order and packs them
// into chunks.
func ChunkSource(src *parser.Source, cfg Config) []Chunk {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 3000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}

	var pieces []piece
	for _, s := range src.Sections {
		pieces = collect(s, nil, pieces)
	}

	var (
		chunks    []Chunk
		cur       *Chunk
		curTokens int
	)
	flush := func() {
		if cur != nil {
			chunks = append(chunks, *cur)
			cur = nil
			curTokens = 0
		}
	}
	for _, p := range pieces {
		tokens := EstimateTokens(p.text)
		if tokens > cfg.ChunkSize {
			flush()
			for _, part := range splitText(p.text, cfg.ChunkSize, cfg.ChunkOverlap) {
				chunks = append(chunks, Chunk{
					Text:       part,
					Breadcrumb: p.breadcrumb,
					PageStart:  p.page,
					PageEnd:    p.page,
				})
			}
			continue
		}
		if cur != nil && curTokens+tokens > cfg.ChunkSize {
			flush()
		}
		if cur == nil {
			cur = &Chunk{Text: p.text, Breadcrumb: p.breadcrumb, PageStart: p.page, PageEnd: p.page}
			curTokens = tokens
			continue
		}
		cur.Text += "\n\n" + p.text
		cur.Breadcrumb = commonPrefix(cur.Breadcrumb, p.breadcrumb)
		cur.PageStart, cur.PageEnd = widen(cur.PageStart, cur.PageEnd, p.page)
		curTokens += tokens
	}
	flush()

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// collect flattens a section subtree into pieces. Each piece repeats its
// heading path so the text still reads in context once packed.
func collect(s *parser.Section, breadcrumb []string, out []piece) []piece {
	bc := breadcrumb
	if s.Title != "" {
		bc = append(copyBreadcrumb(breadcrumb), s.Title)
	}
	if text := strings.TrimSpace(s.Text); text != "" {
		if len(bc) > 0 {
			text = "## " + strings.Join(bc, " > ") + "\n\n" + text
		}
		out = append(out, piece{text: text, breadcrumb: bc, page: s.Page})
	}
	for _, c := range s.Children {
		out = collect(c, bc, out)
	}
	return out
}

func widen(start, end, page int) (int, int) {
	if page == 0 {
		return start, end
	}
	if start == 0 || page < start {
		start = page
	}
	if page > end {
		end = page
	}
	return start, end
}

func commonPrefix(a, b []string) []string {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	if n == 0 {
		return nil
	}
	return a[:n:n]
}

// splitText breaks text into chunks of approximately targetTokens, with overlap.
func splitText(text string, targetTokens, overlapTokens int) []string {
	paragraphs := splitByParagraphs(text)

	var result []string
	var current strings.Builder
	currentTokens := 0

	for _, para := range paragraphs {
		paraTokens := EstimateTokens(para)

		if paraTokens > targetTokens {
			if currentTokens > 0 {
				result = append(result, current.String())
				current.Reset()
				currentTokens = 0
			}
			result = append(result, splitBySentences(para, targetTokens, overlapTokens)...)
			continue
		}

		if currentTokens+paraTokens > targetTokens && currentTokens > 0 {
			result = append(result, current.String())
			overlap := getOverlapText(current.String(), overlapTokens)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				currentTokens = EstimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}

	if currentTokens > 0 {
		result = append(result, current.String())
	}
	return result
}

// splitByParagraphs splits on blank lines. Table-like text without blank
// lines is split on single newlines instead so quote rows stay whole.
func splitByParagraphs(text string) []string {
	sep := "\n\n"
	if !strings.Contains(text, sep) {
		sep = "\n"
	}
	var result []string
	for _, p := range strings.Split(text, sep) {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// splitBySentences breaks a large paragraph into sentence-based chunks.
func splitBySentences(text string, targetTokens, overlapTokens int) []string {
	var result []string
	var current strings.Builder
	currentTokens := 0

	for _, sent := range splitSentences(text) {
		sentTokens := EstimateTokens(sent)

		if currentTokens+sentTokens > targetTokens && currentTokens > 0 {
			result = append(result, current.String())
			overlap := getOverlapText(current.String(), overlapTokens)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				currentTokens = EstimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}

	if currentTokens > 0 {
		result = append(result, current.String())
	}
	return result
}

// splitSentences splits after '.', '!' or '?' followed by a space. Decimal
// points never match since they are followed by a digit.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// getOverlapText returns the trailing words of text worth about targetTokens.
func getOverlapText(text string, targetTokens int) string {
	words := strings.Fields(text)
	targetWords := int(float64(targetTokens) / 1.33)
	if targetWords <= 0 || len(words) <= targetWords {
		return ""
	}
	return strings.Join(words[len(words)-targetWords:], " ")
}

func copyBreadcrumb(bc []string) []string {
	out := make([]string, len(bc), len(bc)+1)
	copy(out, bc)
	return out
}
