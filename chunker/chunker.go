package chunker

import (
	"strings"

	"github.com/arborist-labs/scholaria/parser"
)

// Defaults per spec §4.2 phase 3: chunks of at most 1,000 characters with
// 200 characters of overlap between consecutive chunks.
const (
	DefaultMaxChars = 1000
	DefaultOverlap  = 200
)

// Config controls the chunking behaviour.
type Config struct {
	MaxChars int
	Overlap  int
}

// Chunker splits per-page/slide extracted text into overlapping chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration. Zero-value fields
// are replaced with the spec defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = DefaultOverlap
	}
	return &Chunker{cfg: cfg}
}

// Chunk concatenates the text of each source unit (page or slide) and
// splits the result into chunks (spec §4.2 phase 3: "concatenate text per
// source unit, then split into chunks ... splitting on paragraph > sentence
// > word boundaries"). Items must all be ItemText — the caption phase is
// expected to have already replaced every ItemImage with its caption text
// (or the "[image: unreadable]" placeholder) in place. Empty chunks are
// discarded.
func (c *Chunker) Chunk(items []parser.Item) []string {
	var chunks []string
	for _, unitText := range concatenateByUnit(items) {
		chunks = append(chunks, c.splitText(unitText)...)
	}
	return chunks
}

// concatenateByUnit groups consecutive text items sharing a PageIndex and
// joins each group's text with blank lines, preserving document order.
func concatenateByUnit(items []parser.Item) []string {
	var units []string
	var cur []string
	curPage := 0
	started := false

	flush := func() {
		if len(cur) > 0 {
			units = append(units, strings.Join(cur, "\n\n"))
			cur = nil
		}
	}

	for _, it := range items {
		if it.Kind != parser.ItemText {
			continue
		}
		text := strings.TrimSpace(it.Text)
		if text == "" {
			continue
		}
		if !started || it.PageIndex != curPage {
			flush()
			curPage = it.PageIndex
			started = true
		}
		cur = append(cur, text)
	}
	flush()

	return units
}

// splitText breaks a single source unit's text into chunks of at most
// cfg.MaxChars characters, preferring to split on paragraph, then sentence,
// then word boundaries, carrying cfg.Overlap characters of trailing context
// into the next chunk.
func (c *Chunker) splitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.cfg.MaxChars {
		return []string{text}
	}

	paragraphs := splitParagraphs(text)
	var chunks []string
	var current strings.Builder
	overlapText := ""

	for _, para := range paragraphs {
		if len(para) > c.cfg.MaxChars {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				overlapText = extractOverlap(current.String(), c.cfg.Overlap)
				current.Reset()
			}
			sentenceFragments := c.splitBySentences(para, overlapText)
			chunks = append(chunks, sentenceFragments...)
			if len(sentenceFragments) > 0 {
				overlapText = extractOverlap(sentenceFragments[len(sentenceFragments)-1], c.cfg.Overlap)
			}
			continue
		}

		if current.Len()+len(para) > c.cfg.MaxChars && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			overlapText = extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()

			if overlapText != "" {
				current.WriteString(overlapText)
				current.WriteString("\n\n")
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return discardEmpty(chunks)
}

// splitBySentences breaks an over-long paragraph into fragments at sentence
// boundaries, falling back to word boundaries for any sentence that alone
// still exceeds MaxChars.
func (c *Chunker) splitBySentences(text string, initialOverlap string) []string {
	sentences := splitSentences(text)
	var fragments []string
	var current strings.Builder

	if initialOverlap != "" {
		current.WriteString(initialOverlap)
		current.WriteString(" ")
	}

	for _, sent := range sentences {
		if len(sent) > c.cfg.MaxChars {
			if current.Len() > 0 {
				fragments = append(fragments, strings.TrimSpace(current.String()))
				current.Reset()
			}
			wordFragments := c.splitByWords(sent)
			fragments = append(fragments, wordFragments...)
			continue
		}

		if current.Len()+len(sent) > c.cfg.MaxChars && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlap := extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			if overlap != "" {
				current.WriteString(overlap)
				current.WriteString(" ")
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return discardEmpty(fragments)
}

// splitByWords is the last-resort boundary: a single sentence (or other
// atom) longer than MaxChars is packed word by word.
func (c *Chunker) splitByWords(text string) []string {
	words := strings.Fields(text)
	var fragments []string
	var current strings.Builder

	for _, w := range words {
		if current.Len()+len(w)+1 > c.cfg.MaxChars && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(w)
	}
	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}
	return discardEmpty(fragments)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func discardEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitParagraphs splits text on blank-line boundaries.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences is a simple sentence tokeniser. It splits on
// period/question-mark/exclamation followed by whitespace or end of
// string, while trying not to split on abbreviations.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// extractOverlap returns the trailing portion of text whose length is at
// most maxChars, snapped to the nearest preceding word boundary so the
// overlap never starts mid-word.
func extractOverlap(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars <= 0 || text == "" {
		return ""
	}
	if len(text) <= maxChars {
		return text
	}
	tail := text[len(text)-maxChars:]
	if idx := strings.IndexByte(tail, ' '); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}
