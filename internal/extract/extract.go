// Package extract turns uploaded files into plain text.
package extract

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"ragapi/internal/domain"
)

// Format identifies how a file's text is extracted.
type Format string

const (
	FormatPlain    Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatDOCX     Format = "docx"
)

var extensions = map[string]Format{
	".txt":      FormatPlain,
	".text":     FormatPlain,
	".log":      FormatPlain,
	".csv":      FormatPlain,
	".json":     FormatPlain,
	".yaml":     FormatPlain,
	".yml":      FormatPlain,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".docx":     FormatDOCX,
}

// Supported reports whether filename has an extension with a known extractor.
func Supported(filename string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Detect picks a format from the filename extension, falling back to
// content sniffing when the extension is unknown or missing.
func Detect(filename string, head []byte) (Format, error) {
	if f, ok := extensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return f, nil
	}
	ct := http.DetectContentType(head)
	switch {
	case strings.HasPrefix(ct, "text/html"):
		return FormatHTML, nil
	case strings.HasPrefix(ct, "text/"):
		return FormatPlain, nil
	}
	return "", fmt.Errorf("%w: %s (%s)", domain.ErrUnsupportedFormat, filename, ct)
}

// DefaultMaxExpanded bounds the decompressed size of an archive-based
// document when the caller passes no limit.
const DefaultMaxExpanded = 32 << 20

// File extracts text from the file at path. filename is the client-side
// name used for format detection; maxExpanded bounds decompressed archive
// members (0 means DefaultMaxExpanded).
func File(path, filename string, maxExpanded int64) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Bytes(filename, data, maxExpanded)
}

// Bytes extracts text from an in-memory file.
func Bytes(filename string, data []byte, maxExpanded int64) (string, error) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	format, err := Detect(filename, head)
	if err != nil {
		return "", err
	}
	switch format {
	case FormatDOCX:
		if maxExpanded <= 0 {
			maxExpanded = DefaultMaxExpanded
		}
		return docxText(data, maxExpanded)
	case FormatHTML:
		return stripHTML(string(data)), nil
	case FormatMarkdown:
		return stripMarkdown(string(data)), nil
	default:
		if bytes.IndexByte(data, 0) >= 0 {
			return "", fmt.Errorf("%w: %s looks binary", domain.ErrUnsupportedFormat, filename)
		}
		return strings.ToValidUTF8(string(data), "�"), nil
	}
}
