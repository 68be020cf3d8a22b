package ingestion

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n+`)

// TextChunk is a piece of one page ready for embedding.
type TextChunk struct {
	Page int
	Text string
}

// ChunkPages packs each page's paragraphs into chunks of at most size runes.
// Paragraphs longer than size are split with overlap. Chunks never span pages,
// so every chunk keeps an exact page number.
func ChunkPages(pages []Page, size, overlap int) []TextChunk {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var out []TextChunk
	for _, p := range pages {
		var current strings.Builder
		currentLen := 0
		flush := func() {
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, TextChunk{Page: p.Number, Text: s})
			}
			current.Reset()
			currentLen = 0
		}

		for _, para := range paragraphBreak.Split(sanitize(p.Text), -1) {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			n := utf8.RuneCountInString(para)
			if n > size {
				flush()
				for _, piece := range splitLong(para, size, overlap) {
					out = append(out, TextChunk{Page: p.Number, Text: piece})
				}
				continue
			}
			if currentLen > 0 && currentLen+2+n > size {
				flush()
			}
			if currentLen > 0 {
				current.WriteString("\n\n")
				currentLen += 2
			}
			current.WriteString(para)
			currentLen += n
		}
		flush()
	}
	return out
}

// splitLong cuts s into windows of max runes that overlap by overlap runes.
func splitLong(s string, max, overlap int) []string {
	runes := []rune(s)
	if len(runes) <= max {
		return []string{s}
	}
	var res []string
	for i := 0; i < len(runes); i += max - overlap {
		end := i + max
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[i:end])); piece != "" {
			res = append(res, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return res
}

// sanitize drops invalid UTF-8 and NUL bytes that PDF text layers sometimes carry.
func sanitize(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.ReplaceAll(s, "\r\n", "\n")
}
