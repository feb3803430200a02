package parser

import "fmt"

// Registry dispatches by file format to the built-in parsers (spec §4.2:
// pdf, docx, pptx, image).
type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}

	img := &ImageParser{}
	for _, p := range []Parser{&PDFParser{}, &DOCXParser{}, &PPTXParser{}, img} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}
