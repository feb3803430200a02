package parser

import "context"

// ItemKind distinguishes the two item shapes the extract phase produces
// (spec §4.2: "an ordered sequence of (page_or_slide_index, text_block |
// image_ref) items").
type ItemKind string

const (
	ItemText  ItemKind = "text_block"
	ItemImage ItemKind = "image_ref"
)

// ExtractedImage is the payload of an image_ref item before captioning.
type ExtractedImage struct {
	Data     []byte
	MIMEType string // from the file extension, e.g. "image/jpeg", "image/png", "image/gif"
	Width    int
	Height   int
}

// Item is one element of a ParseResult's ordered sequence. PageIndex is the
// 1-based page/slide number the item belongs to, or 0 for docx, which has no
// native page concept. A standalone image file yields one item on page 1.
type Item struct {
	PageIndex int
	Kind      ItemKind
	Text      string          // set when Kind == ItemText
	Image     *ExtractedImage // set when Kind == ItemImage
}

// ParseResult is what a parser produces from a document file: the ordered
// item sequence plus bookkeeping about how it was produced.
type ParseResult struct {
	Items    []Item
	Method   string // "native"
	Metadata map[string]string
}

// ParseOptions controls extraction behavior that depends on settings the
// parser itself has no access to (spec §4.2: "images are extracted only if
// vision is enabled").
type ParseOptions struct {
	ExtractImages bool
}

// Parser can parse a specific document format into an ordered item sequence.
type Parser interface {
	Parse(ctx context.Context, path string, opts ParseOptions) (*ParseResult, error)
	SupportedFormats() []string
}
