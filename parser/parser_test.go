package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	formats := []struct {
		format     string
		wantParser string
	}{
		{"pdf", "*parser.PDFParser"},
		{"docx", "*parser.DOCXParser"},
		{"pptx", "*parser.PPTXParser"},
		{"png", "*parser.ImageParser"},
		{"jpg", "*parser.ImageParser"},
	}

	for _, tt := range formats {
		t.Run(tt.format, func(t *testing.T) {
			p, err := reg.Get(tt.format)
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", tt.format, err)
			}
			if p == nil {
				t.Fatalf("Get(%q) returned nil parser", tt.format)
			}
			supported := p.SupportedFormats()
			found := false
			for _, f := range supported {
				if f == tt.format {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("parser for %q does not list %q in SupportedFormats(): %v",
					tt.format, tt.format, supported)
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()

	unknownFormats := []string{"xlsx", "csv", "json", "html", "rtf", "odt", ""}
	for _, f := range unknownFormats {
		t.Run("format_"+f, func(t *testing.T) {
			p, err := reg.Get(f)
			if err == nil {
				t.Errorf("Get(%q) expected error for unknown format, got parser: %v", f, p)
			}
			if p != nil {
				t.Errorf("Get(%q) expected nil parser for unknown format", f)
			}
		})
	}
}

func TestRegistryCustomParser(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("custom")
	if err == nil {
		t.Fatal("expected error for unregistered format")
	}

	reg.Register("custom", &PDFParser{}) // reuse PDFParser as a stand-in
	p, err := reg.Get("custom")
	if err != nil {
		t.Fatalf("Get(\"custom\") after Register returned error: %v", err)
	}
	if p == nil {
		t.Fatal("Get(\"custom\") returned nil after Register")
	}
}

// ---------------------------------------------------------------------------
// ImageParser
// ---------------------------------------------------------------------------

func writeTestPNGFile(t *testing.T, width, height int) string {
	t.Helper()
	data := createTestPNG(t, width, height)
	path := filepath.Join(t.TempDir(), "pic.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing test image: %v", err)
	}
	return path
}

func TestImageParserExtractImages(t *testing.T) {
	path := writeTestPNGFile(t, 64, 48)

	p := &ImageParser{}
	result, err := p.Parse(context.Background(), path, ParseOptions{ExtractImages: true})
	if err != nil {
		t.Fatalf("parsing image: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(result.Items))
	}
	item := result.Items[0]
	if item.Kind != ItemImage {
		t.Errorf("Kind = %q, want %q", item.Kind, ItemImage)
	}
	if item.Image.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", item.Image.MIMEType)
	}
	if item.Image.Width != 64 || item.Image.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", item.Image.Width, item.Image.Height)
	}
}

func TestImageParserSkipsWhenVisionDisabled(t *testing.T) {
	path := writeTestPNGFile(t, 64, 48)

	p := &ImageParser{}
	result, err := p.Parse(context.Background(), path, ParseOptions{ExtractImages: false})
	if err != nil {
		t.Fatalf("parsing image: %v", err)
	}
	if len(result.Items) != 0 {
		t.Errorf("expected 0 items when vision disabled, got %d", len(result.Items))
	}
}

func TestImageParserUnrecognizedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pic.svg")
	if err := os.WriteFile(path, []byte("<svg/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &ImageParser{}
	if _, err := p.Parse(context.Background(), path, ParseOptions{ExtractImages: true}); err == nil {
		t.Error("expected error for unrecognized image extension")
	}
}

// ---------------------------------------------------------------------------
// PPTXParser
// ---------------------------------------------------------------------------

func TestPPTXParserNoSlides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.pptx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	p := &PPTXParser{}
	if _, err := p.Parse(context.Background(), path, ParseOptions{}); err == nil {
		t.Error("expected error opening a non-ZIP file as PPTX")
	}
}
