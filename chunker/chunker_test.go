package chunker

import (
	"strings"
	"testing"

	"github.com/arborist-labs/scholaria/parser"
)

func textItem(page int, text string) parser.Item {
	return parser.Item{PageIndex: page, Kind: parser.ItemText, Text: text}
}

func TestChunkSimple(t *testing.T) {
	c := New(Config{MaxChars: 1000, Overlap: 200})
	items := []parser.Item{
		textItem(1, "This is the introduction to the document."),
	}

	chunks := c.Chunk(items)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "This is the introduction to the document." {
		t.Errorf("chunk = %q", chunks[0])
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c := New(Config{})
	if chunks := c.Chunk(nil); chunks != nil {
		t.Errorf("expected nil for no items, got %v", chunks)
	}
}

func TestChunkDiscardsEmptyText(t *testing.T) {
	c := New(Config{})
	items := []parser.Item{
		textItem(1, "   "),
		textItem(1, ""),
	}
	if chunks := c.Chunk(items); len(chunks) != 0 {
		t.Errorf("expected 0 chunks for blank text, got %d: %v", len(chunks), chunks)
	}
}

func TestChunkIgnoresImageItems(t *testing.T) {
	c := New(Config{})
	items := []parser.Item{
		textItem(1, "Some text."),
		{PageIndex: 1, Kind: parser.ItemImage, Image: &parser.ExtractedImage{}},
	}
	chunks := c.Chunk(items)
	if len(chunks) != 1 || chunks[0] != "Some text." {
		t.Errorf("expected image item to be skipped, got %v", chunks)
	}
}

func TestChunkGroupsBySourceUnit(t *testing.T) {
	c := New(Config{MaxChars: 1000, Overlap: 200})
	items := []parser.Item{
		textItem(1, "Page one paragraph."),
		textItem(2, "Page two paragraph."),
	}

	chunks := c.Chunk(items)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks (one per page), got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != "Page one paragraph." || chunks[1] != "Page two paragraph." {
		t.Errorf("unexpected chunk contents: %v", chunks)
	}
}

func TestChunkConcatenatesSamePageItems(t *testing.T) {
	c := New(Config{MaxChars: 1000, Overlap: 200})
	items := []parser.Item{
		textItem(1, "First paragraph on the slide."),
		textItem(1, "Second paragraph on the slide."),
	}

	chunks := c.Chunk(items)
	if len(chunks) != 1 {
		t.Fatalf("expected items on the same page to concatenate into 1 chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0], "First paragraph") || !strings.Contains(chunks[0], "Second paragraph") {
		t.Errorf("chunk missing expected content: %q", chunks[0])
	}
}

func TestChunkSplitsOnParagraphBoundary(t *testing.T) {
	c := New(Config{MaxChars: 100, Overlap: 20})

	para1 := strings.Repeat("a", 60)
	para2 := strings.Repeat("b", 60)
	text := para1 + "\n\n" + para2

	chunks := c.Chunk([]parser.Item{textItem(1, text)})
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks for oversized paragraphs, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch) > 100+20 {
			t.Errorf("chunk %d length %d exceeds MaxChars+Overlap budget", i, len(ch))
		}
	}
}

func TestChunkRespectsMaxChars(t *testing.T) {
	c := New(Config{MaxChars: 50, Overlap: 10})
	text := "One sentence here. Another sentence follows. A third one too. And a fourth sentence for good measure."

	chunks := c.Chunk([]parser.Item{textItem(1, text)})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch) == 0 {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestChunkFallsBackToWordBoundary(t *testing.T) {
	c := New(Config{MaxChars: 30, Overlap: 5})
	// A single "sentence" with no punctuation, long enough that it must be
	// split at word boundaries rather than sentence boundaries.
	text := "supercalifragilisticexpialidocious word another word yet another one here too"

	chunks := c.Chunk([]parser.Item{textItem(1, text)})
	if len(chunks) < 2 {
		t.Fatalf("expected word-level splitting to produce multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if strings.TrimSpace(ch) == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
	// Reassembling (loosely) should preserve every word.
	joined := strings.Join(chunks, " ")
	for _, w := range strings.Fields(text) {
		if !strings.Contains(joined, w) {
			t.Errorf("word %q missing from chunked output", w)
		}
	}
}

func TestChunkOverlapCarriesContext(t *testing.T) {
	c := New(Config{MaxChars: 80, Overlap: 20})
	para1 := "This is the first paragraph and it has some reasonably long content in it."
	para2 := "This is the second paragraph and it also has a fair amount of content."
	text := para1 + "\n\n" + para2

	chunks := c.Chunk([]parser.Item{textItem(1, text)})
	if len(chunks) < 2 {
		t.Fatalf("expected 2+ chunks, got %d", len(chunks))
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(Config{})
	if c.cfg.MaxChars != DefaultMaxChars {
		t.Errorf("MaxChars default = %d, want %d", c.cfg.MaxChars, DefaultMaxChars)
	}
	if c.cfg.Overlap != DefaultOverlap {
		t.Errorf("Overlap default = %d, want %d", c.cfg.Overlap, DefaultOverlap)
	}
}

func TestSplitParagraphs(t *testing.T) {
	text := "para one\n\npara two\n\n\npara three"
	got := splitParagraphs(text)
	want := []string{"para one", "para two", "para three"}
	if len(got) != len(want) {
		t.Fatalf("got %d paragraphs, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paragraph %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitSentences(t *testing.T) {
	text := "First sentence. Second sentence! Third one? Trailing fragment"
	got := splitSentences(text)
	if len(got) != 4 {
		t.Fatalf("expected 4 sentences, got %d: %v", len(got), got)
	}
}

func TestExtractOverlap(t *testing.T) {
	text := "one two three four five"
	got := extractOverlap(text, 10)
	if len(got) > 10 {
		t.Errorf("overlap %q exceeds max length 10", got)
	}
	if strings.HasPrefix(got, " ") {
		t.Errorf("overlap should not start with a space: %q", got)
	}
}

func TestExtractOverlapShortText(t *testing.T) {
	text := "short"
	if got := extractOverlap(text, 100); got != text {
		t.Errorf("expected short text unchanged, got %q", got)
	}
}

func TestExtractOverlapEmpty(t *testing.T) {
	if got := extractOverlap("", 10); got != "" {
		t.Errorf("expected empty overlap, got %q", got)
	}
}
