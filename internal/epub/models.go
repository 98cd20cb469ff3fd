package epub

// OPF represents the parsed Open Package Format document
type OPF struct {
	Metadata      Metadata
	Manifest      map[string]ManifestItem // id -> item
	ManifestOrder []string                // ids in document order, first occurrence only
	Spine         []SpineItem
	Guide         []GuideReference
}

// Metadata represents the metadata section of the OPF
type Metadata struct {
	Title       string
	Creators    []Creator
	Language    string
	Identifier  string
	Publisher   string
	Date        string
	Description string
	Subjects    []string
	Rights      string
	CoverID     string // EPUB 2.0 cover image manifest item ID (from meta name="cover")
}

// Author returns the name of the first creator, or "" if there is none.
func (m Metadata) Author() string {
	if len(m.Creators) == 0 {
		return ""
	}
	return m.Creators[0].Name
}

// Creator represents a creator (author, editor, etc.) of the book
type Creator struct {
	Name string
	Role string // e.g., "aut" for author, "edt" for editor
	Lang string // xml:lang attribute
}

// ManifestItem represents an item in the manifest.
// Href is the container-absolute path (OPF directory already applied).
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties []string
}

// IsDocument reports whether the item is an (X)HTML content document.
func (i ManifestItem) IsDocument() bool {
	return isXHTMLMediaType(i.MediaType)
}

// IsImage reports whether the item's media type is image/*.
func (i ManifestItem) IsImage() bool {
	return hasImagePrefix(i.MediaType)
}

// SpineItem represents an item reference in the spine. linear="no" items
// are kept: every spine document contributes content.
type SpineItem struct {
	IDRef string
}

// GuideReference represents an EPUB 2.0 guide reference
type GuideReference struct {
	Type  string
	Title string
	Href  string
}
