package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ImageParser handles a standalone image file (spec §4.2: "image: single
// item, the image itself").
type ImageParser struct{}

func (p *ImageParser) SupportedFormats() []string {
	return []string{"png", "jpg", "jpeg", "gif", "bmp"}
}

func (p *ImageParser) Parse(ctx context.Context, path string, opts ParseOptions) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image file: %w", err)
	}

	mimeType := mimeFromExt(filepath.Ext(path))
	if mimeType == "" {
		return nil, fmt.Errorf("unrecognized image extension: %s", filepath.Ext(path))
	}

	width, height := imageSize(data)

	result := &ParseResult{Method: "native"}
	if !opts.ExtractImages {
		return result, nil
	}

	result.Items = []Item{
		{
			PageIndex: 1,
			Kind:      ItemImage,
			Image: &ExtractedImage{
				Data:     data,
				MIMEType: mimeType,
				Width:    width,
				Height:   height,
			},
		},
	}
	return result, nil
}
