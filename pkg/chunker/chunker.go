// Package chunker cleans raw page text and splits it into overlapping
// segments sized for embedding.
package chunker

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Chunk is a bounded segment of a source document, tagged with its
// provenance. ChunkID is globally unique and never reused.
type Chunk struct {
	ChunkID     string
	Text        string
	SourceURL   string
	SourceTitle string
	ChunkIndex  int
	TotalChunks int
}

// separators are tried in order; the splitter prefers paragraph breaks,
// then lines, then sentences, then words.
var separators = []string{"\n\n", "\n", ". ", " "}

var (
	htmlEntityRe = regexp.MustCompile(`&[a-zA-Z]+;|&#\d+;`)
	urlRe        = regexp.MustCompile(`https?://\S+|www\.\S+`)
	emailRe      = regexp.MustCompile(`\S+@\S+`)
	spaceRe      = regexp.MustCompile(`[ \t]+`)
)

// Chunker splits cleaned text into chunks of roughly chunkSize
// characters with chunkOverlap characters carried between neighbours.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// New creates a chunker. Non-positive size defaults to 1000, overlap to
// 200; overlap is capped below the chunk size.
func New(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 200
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Clean strips leftover HTML entities, URLs, email addresses and
// excess whitespace from extracted page text.
func Clean(text string) string {
	text = htmlEntityRe.ReplaceAllString(text, " ")
	text = urlRe.ReplaceAllString(text, "")
	text = emailRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isDigits(line) {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Split breaks text into pieces of at most ~chunkSize runes, preferring
// to cut at the coarsest separator present and carrying chunkOverlap
// runes of context between neighbours.
func (c *Chunker) Split(text string) []string {
	return c.split([]rune(text), separators)
}

func (c *Chunker) split(text []rune, seps []string) []string {
	trimmed := strings.TrimSpace(string(text))
	if trimmed == "" {
		return nil
	}
	if len(text) <= c.chunkSize {
		return []string{trimmed}
	}

	if len(seps) == 0 {
		// No separator left: hard cut with overlap.
		var out []string
		step := c.chunkSize - c.chunkOverlap
		for start := 0; start < len(text); start += step {
			end := start + c.chunkSize
			if end > len(text) {
				end = len(text)
			}
			piece := strings.TrimSpace(string(text[start:end]))
			if piece != "" {
				out = append(out, piece)
			}
			if end == len(text) {
				break
			}
		}
		return out
	}

	sep := seps[0]
	rest := seps[1:]
	if !strings.Contains(string(text), sep) {
		return c.split(text, rest)
	}

	parts := strings.SplitAfter(string(text), sep)
	return c.merge(parts, rest)
}

// merge greedily packs consecutive parts into chunks, recursing on any
// single part that alone exceeds the chunk size.
func (c *Chunker) merge(parts []string, rest []string) []string {
	var out []string
	var cur []rune

	flush := func() {
		piece := strings.TrimSpace(string(cur))
		if piece != "" {
			out = append(out, piece)
		}
		if c.chunkOverlap > 0 && len(cur) > c.chunkOverlap {
			cur = cur[len(cur)-c.chunkOverlap:]
		} else {
			cur = nil
		}
	}

	for _, part := range parts {
		runes := []rune(part)
		if len(runes) > c.chunkSize {
			if strings.TrimSpace(string(cur)) != "" {
				flush()
			}
			cur = nil
			out = append(out, c.split(runes, rest)...)
			continue
		}
		if len(cur)+len(runes) > c.chunkSize && strings.TrimSpace(string(cur)) != "" {
			flush()
		}
		cur = append(cur, runes...)
	}
	if piece := strings.TrimSpace(string(cur)); piece != "" {
		out = append(out, piece)
	}
	return out
}

// ProcessPage cleans and splits one page's content into chunks carrying
// the page's provenance. Returns nil when the page has no usable text.
func (c *Chunker) ProcessPage(sourceURL, sourceTitle, content string) []Chunk {
	pieces := c.Split(Clean(content))
	chunks := make([]Chunk, 0, len(pieces))
	for i, text := range pieces {
		chunks = append(chunks, Chunk{
			ChunkID:     uuid.NewString(),
			Text:        text,
			SourceURL:   sourceURL,
			SourceTitle: sourceTitle,
			ChunkIndex:  i,
			TotalChunks: len(pieces),
		})
	}
	return chunks
}
