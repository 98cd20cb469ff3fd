package epub

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Content represents a parsed XHTML content file
type Content struct {
	ID       string            // Manifest ID
	Path     string            // File path
	Document *goquery.Document // Parsed HTML document
}

// xmlEncodingRe matches the encoding pseudo-attribute of an XML declaration
var xmlEncodingRe = regexp.MustCompile(`^\s*<\?xml[^>]*\bencoding\s*=\s*["']([A-Za-z0-9._:-]+)["']`)

// selfClosingRawTextRe matches XHTML self-closing forms of elements the HTML5
// parser treats as raw text or RCDATA. Left alone, <title/> or <script .../>
// swallow the rest of the document as text.
var selfClosingRawTextRe = regexp.MustCompile(`(?is)<(script|style|title|textarea|iframe|noscript|xmp|noembed|noframes)\b([^>]*?)\s*/>`)

// LoadContent loads and parses an XHTML content file
// id: manifest item ID
// path: file path within EPUB (used for relative path resolution)
// content: XHTML file content
func LoadContent(id, path string, content []byte) (*Content, error) {
	r, err := decodeContent(stripBOM(content))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(normalizeSelfClosing(decoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse XHTML: %w", err)
	}

	return &Content{
		ID:       id,
		Path:     path,
		Document: doc,
	}, nil
}

// normalizeSelfClosing rewrites <script .../> and friends to an explicit
// start and end tag pair.
func normalizeSelfClosing(data []byte) []byte {
	if !selfClosingRawTextRe.Match(data) {
		return data
	}
	return selfClosingRawTextRe.ReplaceAll(data, []byte(`<$1$2></$1>`))
}

// decodeContent returns a UTF-8 reader over content. Valid UTF-8 is passed
// through untouched; anything else is decoded from the declared charset
// (XML declaration or meta tag), falling back to sniffing.
func decodeContent(content []byte) (io.Reader, error) {
	declared := ""
	if m := xmlEncodingRe.FindSubmatch(content); m != nil {
		declared = strings.ToLower(string(m[1]))
	}

	if utf8.Valid(content) && (declared == "" || declared == "utf-8" || declared == "utf8") {
		return bytes.NewReader(content), nil
	}

	contentType := "text/html"
	if declared != "" {
		contentType += "; charset=" + declared
	}
	return charset.NewReader(bytes.NewReader(content), contentType)
}

// ResolvePath resolves ref relative to the directory of the document at
// docPath. Fragments and queries are dropped. It returns "" for external
// references (absolute URLs, data URIs) and for paths escaping the container.
func ResolvePath(docPath, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	u, err := url.Parse(ref)
	if err != nil {
		// Not a URL (e.g. a raw '%' in the name); treat it as a plain path
		ref, _, _ = strings.Cut(ref, "#")
		u = &url.URL{Path: ref}
	}
	if u.Scheme != "" || u.Host != "" || u.Path == "" {
		return ""
	}

	var joined string
	if strings.HasPrefix(u.Path, "/") {
		joined = path.Clean(strings.TrimPrefix(u.Path, "/"))
	} else {
		joined = path.Join(path.Dir(docPath), u.Path)
	}

	if joined == ".." || strings.HasPrefix(joined, "../") {
		return ""
	}
	return joined
}
