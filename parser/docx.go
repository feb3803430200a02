package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

// Parse walks word/document.xml in a single token pass, emitting a text item
// per paragraph and an image item per inline drawing in document order
// (spec §4.2: "docx: paragraphs + inline images"). DOCX has no native page
// concept, so every item carries PageIndex 0.
func (p *DOCXParser) Parse(ctx context.Context, path string, opts ParseOptions) (*ParseResult, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	fileIndex := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileIndex[f.Name] = f
	}

	docFile := fileIndex["word/document.xml"]
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	rels := parseDocxRels(fileIndex)

	items, err := walkDocxBody(data, rels, fileIndex, opts.ExtractImages)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}

	items = append(items, extractDocxTables(data)...)

	return &ParseResult{Items: items, Method: "native"}, nil
}

// parseDocxRels reads word/_rels/document.xml.rels and returns a map of rId -> target path.
func parseDocxRels(fileIndex map[string]*zip.File) map[string]string {
	relsFile := fileIndex["word/_rels/document.xml.rels"]
	if relsFile == nil {
		return nil
	}

	rc, err := relsFile.Open()
	if err != nil {
		return nil
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil
	}

	var rels docxRelationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil
	}

	result := make(map[string]string, len(rels.Rels))
	for _, rel := range rels.Rels {
		result[rel.ID] = rel.Target
	}
	return result
}

// docxRelationships represents the .rels XML structure.
type docxRelationships struct {
	XMLName xml.Name           `xml:"Relationships"`
	Rels    []docxRelationship `xml:"Relationship"`
}

type docxRelationship struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
	Type   string `xml:"Type,attr"`
}

// walkDocxBody performs a single token pass over the document body, flushing
// one text item per paragraph and one image item per inline drawing, in the
// order they appear — so a caption phase downstream sees images in their
// original reading position. The images of a paragraph follow that
// paragraph's text item.
func walkDocxBody(docXML []byte, rels map[string]string, fileIndex map[string]*zip.File, extractImages bool) ([]Item, error) {
	decoder := xml.NewDecoder(bytes.NewReader(docXML))

	var items []Item
	var para strings.Builder
	var paraImages []Item
	inPara := false

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				para.Reset()
			case "blip":
				if !extractImages {
					continue
				}
				img := resolveDocxImage(t, rels, fileIndex)
				if img != nil {
					item := Item{PageIndex: 0, Kind: ItemImage, Image: img}
					if inPara {
						paraImages = append(paraImages, item)
					} else {
						items = append(items, item)
					}
				}
			}
		case xml.CharData:
			if inPara {
				para.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				if text := strings.TrimSpace(para.String()); text != "" {
					items = append(items, Item{PageIndex: 0, Kind: ItemText, Text: text})
				}
				items = append(items, paraImages...)
				paraImages = nil
				inPara = false
			}
		}
	}

	return items, nil
}

func resolveDocxImage(blip xml.StartElement, rels map[string]string, fileIndex map[string]*zip.File) *ExtractedImage {
	var embedID string
	for _, attr := range blip.Attr {
		if attr.Name.Local == "embed" {
			embedID = attr.Value
			break
		}
	}
	if embedID == "" || rels == nil {
		return nil
	}

	target, ok := rels[embedID]
	if !ok {
		return nil
	}

	mediaPath := filepath.Clean("word/" + target)
	mediaPath = strings.ReplaceAll(mediaPath, "\\", "/")

	zf := fileIndex[mediaPath]
	if zf == nil {
		slog.Debug("docx: image file not found in ZIP", "path", mediaPath, "rId", embedID)
		return nil
	}

	imgRC, err := zf.Open()
	if err != nil {
		slog.Debug("docx: failed to open image file", "path", mediaPath, "error", err)
		return nil
	}
	imgData, err := io.ReadAll(imgRC)
	imgRC.Close()
	if err != nil {
		slog.Debug("docx: failed to read image file", "path", mediaPath, "error", err)
		return nil
	}

	mimeType := mimeFromExt(filepath.Ext(zf.Name))
	if mimeType == "" {
		return nil
	}

	w, h := imageSize(imgData)
	if w == 0 || h == 0 || w < 32 || h < 32 {
		return nil
	}

	return &ExtractedImage{Data: imgData, MIMEType: mimeType, Width: w, Height: h}
}

// mimeFromExt returns the MIME type for common image extensions.
func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".emf":
		return "image/emf"
	case ".wmf":
		return "image/wmf"
	default:
		return ""
	}
}

// imageSize returns the width and height of an image from its encoded bytes.
func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// DOCX table XML structures (simplified) — tables are emitted as a single
// pipe-delimited text item per table, appended after the body paragraphs.
type docxBody struct {
	XMLName xml.Name    `xml:"body"`
	Tables  []docxTable `xml:"tbl"`
}

type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

type docxPara struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

func extractDocxTables(data []byte) []Item {
	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil
	}

	var items []Item
	for _, tbl := range doc.Body.Tables {
		var content strings.Builder
		for _, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				var cellText strings.Builder
				for _, p := range cell.Paras {
					for _, run := range p.Runs {
						for _, t := range run.Text {
							cellText.WriteString(t.Content)
						}
					}
				}
				cells = append(cells, cellText.String())
			}
			content.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
		if text := strings.TrimSpace(content.String()); text != "" {
			items = append(items, Item{PageIndex: 0, Kind: ItemText, Text: text})
		}
	}
	return items
}
