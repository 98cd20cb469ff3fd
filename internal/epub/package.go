package epub

import (
	"fmt"
	"path"
	"strings"
)

// Package is an opened, parsed EPUB: the container plus its OPF manifest,
// spine and metadata. It is never mutated after OpenPackage returns and is
// safe for concurrent reads.
type Package struct {
	reader *EPUBReader
	opf    *OPF
	opfDir string
	byHref map[string]ManifestItem
}

// OpenPackage locates and parses the OPF of an already opened container.
// Errors wrap ErrInvalidContainer.
func OpenPackage(reader *EPUBReader) (*Package, error) {
	opfData, err := reader.ReadFile(reader.OPFPath())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read OPF: %w", ErrInvalidContainer, err)
	}

	opfDir := path.Dir(reader.OPFPath())
	if opfDir == "." {
		opfDir = ""
	}

	opf, err := ParseOPF(opfData, opfDir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse OPF: %w", ErrInvalidContainer, err)
	}

	p := &Package{
		reader: reader,
		opf:    opf,
		opfDir: opfDir,
		byHref: make(map[string]ManifestItem, len(opf.Manifest)),
	}
	for _, item := range opf.orderedItems() {
		key := hrefKey(item.Href)
		if _, exists := p.byHref[key]; !exists {
			p.byHref[key] = item
		}
	}

	return p, nil
}

// OpenBytesPackage opens an EPUB held in memory and parses its package document.
func OpenBytesPackage(data []byte) (*Package, error) {
	reader, err := OpenBytes(data)
	if err != nil {
		return nil, err
	}
	return OpenPackage(reader)
}

// Close releases the underlying container.
func (p *Package) Close() error {
	return p.reader.Close()
}

// OPF returns the parsed package document.
func (p *Package) OPF() *OPF {
	return p.opf
}

// Metadata returns the package metadata.
func (p *Package) Metadata() Metadata {
	return p.opf.Metadata
}

// Items returns every manifest item in document order.
func (p *Package) Items() []ManifestItem {
	return p.opf.orderedItems()
}

// ItemsInSpineOrder returns the (X)HTML documents referenced by the spine,
// in reading order. Dangling idrefs and non-document items are skipped.
func (p *Package) ItemsInSpineOrder() []ManifestItem {
	items := make([]ManifestItem, 0, len(p.opf.Spine))
	for _, ref := range p.opf.Spine {
		item, ok := p.opf.Manifest[ref.IDRef]
		if !ok || !item.IsDocument() {
			continue
		}
		items = append(items, item)
	}
	return items
}

// ResolveByID looks up a manifest item by id.
func (p *Package) ResolveByID(id string) (ManifestItem, bool) {
	item, ok := p.opf.Manifest[id]
	return item, ok
}

// ResolveByHref looks up a manifest item by its container-absolute href.
// Fragments and "./" prefixes are ignored; the first declared item wins.
func (p *Package) ResolveByHref(href string) (ManifestItem, bool) {
	item, ok := p.byHref[hrefKey(href)]
	return item, ok
}

// ResolveReference resolves a reference found inside the document at
// docHref. It tries the document-relative path first, then the path
// relative to the OPF directory, then the reference verbatim.
func (p *Package) ResolveReference(docHref, ref string) (ManifestItem, bool) {
	candidates := []string{
		ResolvePath(docHref, ref),
		ResolvePath(path.Join(p.opfDir, "package.opf"), ref),
	}
	if plain := ResolvePath("", ref); plain != "" {
		candidates = append(candidates, plain)
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if item, ok := p.ResolveByHref(c); ok {
			return item, true
		}
	}
	return ManifestItem{}, false
}

// Content reads the raw bytes of a manifest item.
func (p *Package) Content(item ManifestItem) ([]byte, error) {
	return p.reader.ReadFile(item.Href)
}

// DetectCover returns the cover image of the book, or nil.
func (p *Package) DetectCover() *CoverInfo {
	return p.opf.DetectCover()
}

func hrefKey(href string) string {
	href, _, _ = strings.Cut(href, "#")
	return path.Clean(normalizePath(href))
}
