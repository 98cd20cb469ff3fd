// Package epubtest builds small in-memory EPUB files for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"image"
	"image/color"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
)

// Item is a manifest entry together with its content.
type Item struct {
	ID         string
	Href       string // relative to the OPF directory
	MediaType  string
	Properties string
	Data       []byte
}

// Book describes an EPUB to build. The zero value plus a few AddDocument
// calls produces a valid book.
type Book struct {
	Title   string
	Authors []string

	// OPFDir is the directory holding content.opf. Defaults to "OEBPS";
	// set NoOPFDir to put the OPF at the container root.
	OPFDir   string
	NoOPFDir bool

	// CoverMeta is written as <meta name="cover" content="...">.
	CoverMeta string

	Items []Item

	// Spine lists manifest ids in reading order. When nil every
	// document item is used in the order it was added.
	Spine []string

	// Mimetype overrides the mimetype entry content; OmitMimetype drops it.
	Mimetype     string
	OmitMimetype bool

	// Extra holds raw entries written verbatim at container paths.
	Extra map[string][]byte
}

// New returns a Book with the given title and authors.
func New(title string, authors ...string) *Book {
	return &Book{Title: title, Authors: authors}
}

// AddDocument adds an XHTML document whose <body> holds body.
func (b *Book) AddDocument(id, href, body string) *Book {
	b.Items = append(b.Items, Item{
		ID:        id,
		Href:      href,
		MediaType: "application/xhtml+xml",
		Data:      []byte(XHTML(id, body)),
	})
	return b
}

// AddRawDocument adds a document with content used as-is.
func (b *Book) AddRawDocument(id, href string, content []byte) *Book {
	b.Items = append(b.Items, Item{ID: id, Href: href, MediaType: "application/xhtml+xml", Data: content})
	return b
}

// AddImage adds an image item.
func (b *Book) AddImage(id, href, mediaType string, data []byte) *Book {
	b.Items = append(b.Items, Item{ID: id, Href: href, MediaType: mediaType, Data: data})
	return b
}

// AddItem adds an arbitrary manifest item.
func (b *Book) AddItem(item Item) *Book {
	b.Items = append(b.Items, item)
	return b
}

func (b *Book) opfDir() string {
	if b.NoOPFDir {
		return ""
	}
	if b.OPFDir == "" {
		return "OEBPS"
	}
	return strings.Trim(b.OPFDir, "/")
}

// OPFPath returns the container path of the package document.
func (b *Book) OPFPath() string {
	return b.path("content.opf")
}

func (b *Book) path(rel string) string {
	if dir := b.opfDir(); dir != "" {
		return dir + "/" + rel
	}
	return rel
}

// Bytes renders the book as a zip archive.
func (b *Book) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if !b.OmitMimetype {
		mimetype := b.Mimetype
		if mimetype == "" {
			mimetype = "application/epub+zip"
		}
		if err := writeEntry(zw, &zip.FileHeader{Name: "mimetype", Method: zip.Store}, []byte(mimetype)); err != nil {
			return nil, err
		}
	}

	container := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="%s" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`, b.OPFPath())
	if err := create(zw, "META-INF/container.xml", []byte(container)); err != nil {
		return nil, err
	}

	if err := create(zw, b.OPFPath(), []byte(b.opf())); err != nil {
		return nil, err
	}

	for _, item := range b.Items {
		if item.Data == nil {
			continue
		}
		if err := create(zw, b.path(item.Href), item.Data); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(b.Extra))
	for name := range b.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := create(zw, name, b.Extra[name]); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustBytes is Bytes for fixtures that cannot fail.
func (b *Book) MustBytes() []byte {
	data, err := b.Bytes()
	if err != nil {
		panic(err)
	}
	return data
}

func (b *Book) opf() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package version="3.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">urn:uuid:epubtest</dc:identifier>
`)
	if b.Title != "" {
		fmt.Fprintf(&sb, "    <dc:title>%s</dc:title>\n", html.EscapeString(b.Title))
	}
	for _, a := range b.Authors {
		fmt.Fprintf(&sb, "    <dc:creator>%s</dc:creator>\n", html.EscapeString(a))
	}
	if b.CoverMeta != "" {
		fmt.Fprintf(&sb, "    <meta name=\"cover\" content=\"%s\"/>\n", html.EscapeString(b.CoverMeta))
	}
	sb.WriteString("  </metadata>\n  <manifest>\n")
	for _, item := range b.Items {
		fmt.Fprintf(&sb, "    <item id=\"%s\" href=\"%s\" media-type=\"%s\"", item.ID, html.EscapeString(item.Href), item.MediaType)
		if item.Properties != "" {
			fmt.Fprintf(&sb, " properties=\"%s\"", item.Properties)
		}
		sb.WriteString("/>\n")
	}
	sb.WriteString("  </manifest>\n  <spine>\n")
	spine := b.Spine
	if spine == nil {
		for _, item := range b.Items {
			if strings.Contains(item.MediaType, "html") {
				spine = append(spine, item.ID)
			}
		}
	}
	for _, id := range spine {
		fmt.Fprintf(&sb, "    <itemref idref=\"%s\"/>\n", id)
	}
	sb.WriteString("  </spine>\n</package>\n")
	return sb.String()
}

// XHTML wraps body in a minimal XHTML document.
func XHTML(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>` + html.EscapeString(title) + `</title></head>
<body>` + body + `</body>
</html>`
}

// Words returns n space-separated words.
func Words(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

// PNG returns an encoded w x h PNG filled with c.
func PNG(w, h int, c color.Color) []byte {
	return encode(imaging.New(w, h, c), imaging.PNG)
}

// JPEG returns an encoded w x h JPEG filled with c.
func JPEG(w, h int, c color.Color) []byte {
	return encode(imaging.New(w, h, c), imaging.JPEG)
}

func encode(img image.Image, format imaging.Format) []byte {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func create(zw *zip.Writer, name string, data []byte) error {
	return writeEntry(zw, &zip.FileHeader{Name: name, Method: zip.Deflate}, data)
}

func writeEntry(zw *zip.Writer, fh *zip.FileHeader, data []byte) error {
	w, err := zw.CreateHeader(fh)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
