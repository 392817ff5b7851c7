package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"ragapi/internal/domain"
)

type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Runs []run `xml:"r"`
}

type run struct {
	Text []struct {
		Content string `xml:",chardata"`
	} `xml:"t"`
}

// docxText reads the paragraphs of word/document.xml, one per line. A
// document.xml that inflates beyond limit bytes is rejected.
func docxText(data []byte, limit int64) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: not a docx archive: %v", domain.ErrUnsupportedFormat, err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
		}
		raw, err := io.ReadAll(io.LimitReader(rc, limit+1))
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
		}
		if int64(len(raw)) > limit {
			return "", fmt.Errorf("%w: document.xml expands beyond %d bytes", domain.ErrPayloadTooLarge, limit)
		}
		var doc documentXML
		if err := xml.Unmarshal(raw, &doc); err != nil {
			return "", fmt.Errorf("%w: malformed document.xml: %v", domain.ErrUnsupportedFormat, err)
		}
		var sb strings.Builder
		for i, p := range doc.Body.Paragraphs {
			if i > 0 {
				sb.WriteString("\n")
			}
			for _, r := range p.Runs {
				for _, t := range r.Text {
					sb.WriteString(t.Content)
				}
			}
		}
		return strings.TrimSpace(sb.String()), nil
	}
	return "", fmt.Errorf("%w: docx without word/document.xml", domain.ErrUnsupportedFormat)
}
