package epub

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	ErrEmptyManifest = errors.New("OPF manifest has no items")
	ErrEmptySpine    = errors.New("OPF spine has no itemrefs")
)

// opfPackage represents the OPF XML structure
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	UniqueID string      `xml:"unique-identifier,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
	Guide    opfGuide    `xml:"guide"`
}

// opfMetadata represents the metadata section
type opfMetadata struct {
	Title       []string        `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creator     []opfCreator    `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Language    []string        `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifier  []opfIdentifier `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Publisher   []string        `xml:"http://purl.org/dc/elements/1.1/ publisher"`
	Date        []string        `xml:"http://purl.org/dc/elements/1.1/ date"`
	Description []string        `xml:"http://purl.org/dc/elements/1.1/ description"`
	Subject     []string        `xml:"http://purl.org/dc/elements/1.1/ subject"`
	Rights      []string        `xml:"http://purl.org/dc/elements/1.1/ rights"`
	Meta        []opfMeta       `xml:"meta"`
}

// opfCreator represents a creator element
type opfCreator struct {
	Name string `xml:",chardata"`
	Role string `xml:"http://www.idpf.org/2007/opf role,attr"`
	Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	ID   string `xml:"id,attr"`
}

// opfIdentifier represents an identifier element
type opfIdentifier struct {
	Value string `xml:",chardata"`
	ID    string `xml:"id,attr"`
}

// opfMeta represents a meta element (EPUB 2.0 and 3.0)
type opfMeta struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"` // EPUB 2.0: attribute value
	Value    string `xml:",chardata"`    // EPUB 3.0: element text content
	Property string `xml:"property,attr"`
	Refines  string `xml:"refines,attr"`
}

// opfManifest represents the manifest section
type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

// opfManifestItem represents an item in the manifest
type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// opfSpine represents the spine section
type opfSpine struct {
	ItemRefs []opfItemRef `xml:"itemref"`
}

// opfItemRef represents an itemref in the spine
type opfItemRef struct {
	IDRef string `xml:"idref,attr"`
}

type opfGuide struct {
	References []opfReference `xml:"reference"`
}

type opfReference struct {
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
	Href  string `xml:"href,attr"`
}

// htmlEntityPattern matches HTML named entities that encoding/xml rejects.
var htmlEntityPattern = regexp.MustCompile(`(?i)&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|copy|reg|trade|eacute|egrave|aacute|agrave|uuml|ouml|auml|ccedil);`)

var entityNumeric = map[string]string{
	"nbsp": "&#160;", "mdash": "&#8212;", "ndash": "&#8211;", "hellip": "&#8230;",
	"lsquo": "&#8216;", "rsquo": "&#8217;", "ldquo": "&#8220;", "rdquo": "&#8221;",
	"copy": "&#169;", "reg": "&#174;", "trade": "&#8482;",
	"eacute": "&#233;", "egrave": "&#232;", "aacute": "&#225;", "agrave": "&#224;",
	"uuml": "&#252;", "ouml": "&#246;", "auml": "&#228;", "ccedil": "&#231;",
}

// preprocessEntities rewrites HTML named entities to numeric references
func preprocessEntities(data []byte) []byte {
	return htmlEntityPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := strings.ToLower(string(m[1 : len(m)-1]))
		if rep, ok := entityNumeric[name]; ok {
			return []byte(rep)
		}
		return m
	})
}

// ParseOPF parses an OPF file content and returns the OPF structure
// opfDir is the directory containing the OPF file (e.g., "OEBPS/")
func ParseOPF(content []byte, opfDir string) (*OPF, error) {
	var pkg opfPackage
	if err := xml.Unmarshal(preprocessEntities(stripBOM(content)), &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse OPF XML: %w", err)
	}

	opf := &OPF{
		Manifest: make(map[string]ManifestItem),
	}

	// Parse metadata
	opf.Metadata = parseMetadata(&pkg.Metadata, pkg.UniqueID)

	// Parse manifest; on duplicate ids the first declaration wins
	for _, item := range pkg.Manifest.Items {
		if item.ID == "" || item.Href == "" {
			continue
		}
		if _, exists := opf.Manifest[item.ID]; exists {
			continue
		}

		manifestItem := ManifestItem{
			ID:        item.ID,
			Href:      joinPath(opfDir, unescapeHref(item.Href)),
			MediaType: strings.TrimSpace(item.MediaType),
		}

		// Parse properties (space-separated)
		if item.Properties != "" {
			manifestItem.Properties = strings.Fields(item.Properties)
		}

		opf.Manifest[item.ID] = manifestItem
		opf.ManifestOrder = append(opf.ManifestOrder, item.ID)
	}

	// Parse spine
	for _, itemRef := range pkg.Spine.ItemRefs {
		opf.Spine = append(opf.Spine, SpineItem{IDRef: itemRef.IDRef})
	}

	for _, ref := range pkg.Guide.References {
		opf.Guide = append(opf.Guide, GuideReference{
			Type:  ref.Type,
			Title: ref.Title,
			Href:  joinPath(opfDir, unescapeHref(ref.Href)),
		})
	}

	if len(opf.Manifest) == 0 {
		return nil, ErrEmptyManifest
	}
	if len(opf.Spine) == 0 {
		return nil, ErrEmptySpine
	}

	return opf, nil
}

// parseMetadata parses the metadata section
func parseMetadata(meta *opfMetadata, uniqueID string) Metadata {
	md := Metadata{
		Subjects: []string{},
		Creators: []Creator{},
	}

	md.Title = first(meta.Title)
	md.Language = first(meta.Language)
	md.Publisher = first(meta.Publisher)
	md.Date = first(meta.Date)
	md.Description = first(meta.Description)
	md.Rights = first(meta.Rights)

	// Identifier (find the one marked as unique-identifier)
	for _, id := range meta.Identifier {
		if id.ID == uniqueID {
			md.Identifier = strings.TrimSpace(id.Value)
			break
		}
	}
	if md.Identifier == "" && len(meta.Identifier) > 0 {
		md.Identifier = strings.TrimSpace(meta.Identifier[0].Value)
	}

	if meta.Subject != nil {
		md.Subjects = meta.Subject
	}

	for _, creator := range meta.Creator {
		md.Creators = append(md.Creators, Creator{
			Name: strings.TrimSpace(creator.Name),
			Role: creator.Role,
			Lang: creator.Lang,
		})
	}

	processCreatorRoles(&md, meta)

	// EPUB 2.0 cover meta element
	for _, m := range meta.Meta {
		if m.Name == "cover" && m.Content != "" {
			md.CoverID = m.Content
			break
		}
	}

	return md
}

// processCreatorRoles processes EPUB 3.0 meta elements to refine creator roles
func processCreatorRoles(md *Metadata, meta *opfMetadata) {
	creatorMap := make(map[string]int)
	for i, creator := range meta.Creator {
		if creator.ID != "" {
			creatorMap["#"+creator.ID] = i
		}
	}

	for _, m := range meta.Meta {
		if m.Property != "role" || m.Refines == "" {
			continue
		}
		idx, ok := creatorMap[m.Refines]
		if !ok {
			continue
		}
		// EPUB 3.0 uses chardata (Value), EPUB 2.0 uses content attribute (Content)
		if m.Value != "" {
			md.Creators[idx].Role = strings.TrimSpace(m.Value)
		} else {
			md.Creators[idx].Role = m.Content
		}
	}
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// unescapeHref decodes percent-encoding in manifest hrefs ("my%20image.jpg")
func unescapeHref(href string) string {
	if decoded, err := url.PathUnescape(href); err == nil {
		return decoded
	}
	return href
}

// joinPath joins OPF directory with a relative path using forward slashes
func joinPath(base, rel string) string {
	if base == "" || base == "." {
		return rel
	}
	return path.Join(base, rel)
}
