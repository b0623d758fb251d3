package chunker

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnsupportedFormat indicates the document's declared type cannot be
// decoded to text. User-correctable: the HTTP layer maps it to 400.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Decode converts raw document bytes to plain text based on the declared
// type. The declared type may be a bare extension ("txt"), a dotted
// extension (".md"), or a file name ("notes.html").
func Decode(raw []byte, declaredType string) (string, error) {
	switch normalizeType(declaredType) {
	case "txt", "text", "md", "markdown":
		return string(raw), nil
	case "html", "htm":
		return htmlToText(raw)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, declaredType)
	}
}

// normalizeType reduces a declared type or file name to a lowercase extension.
func normalizeType(declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if ext := path.Ext(declared); ext != "" {
		return strings.TrimPrefix(ext, ".")
	}
	return declared
}

// htmlToText extracts visible text from an HTML document, dropping script
// and style content and collapsing runs of whitespace.
func htmlToText(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: parsing html: %v", ErrUnsupportedFormat, err)
	}
	doc.Find("script, style, noscript").Remove()
	return collapseWhitespace(doc.Text()), nil
}

// collapseWhitespace squeezes consecutive whitespace into single spaces.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
