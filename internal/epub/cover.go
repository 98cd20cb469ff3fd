package epub

import (
	"path"
	"sort"
	"strings"
)

// CoverInfo holds information about the detected cover image.
type CoverInfo struct {
	ManifestID      string
	Href            string
	MediaType       string
	DetectionMethod string // "properties", "meta", "id", "guide", "filename"
}

// DetectCover detects the cover image from the OPF manifest using multiple methods.
// Methods are tried in priority order:
//  1. properties="cover-image" (EPUB 3.0)
//  2. meta name="cover" (EPUB 2.0)
//  3. a manifest item whose id is "cover"
//  4. guide type="cover" (matched to image manifest items)
//  5. filename pattern (basename contains "cover", case-insensitive, SVG excluded)
//
// Returns nil if no cover image is found.
func (opf *OPF) DetectCover() *CoverInfo {
	items := opf.orderedItems()

	// Method 1: EPUB 3.0 - check for cover-image property
	for _, item := range items {
		if !isImageMediaType(item.MediaType) {
			continue
		}
		for _, prop := range item.Properties {
			if strings.EqualFold(prop, "cover-image") {
				return newCoverInfo(item, "properties")
			}
		}
	}

	// Method 2: EPUB 2.0 - check for meta name="cover"
	if opf.Metadata.CoverID != "" {
		if item, ok := opf.Manifest[opf.Metadata.CoverID]; ok && isImageMediaType(item.MediaType) {
			return newCoverInfo(item, "meta")
		}
	}

	// Method 3: id="cover"
	if item, ok := opf.Manifest["cover"]; ok && isImageMediaType(item.MediaType) {
		return newCoverInfo(item, "id")
	}

	// Method 4: guide type="cover" → match to image manifest items
	for _, ref := range opf.Guide {
		if !strings.EqualFold(ref.Type, "cover") {
			continue
		}
		guideHref, _, _ := strings.Cut(ref.Href, "#")
		for _, item := range items {
			if item.Href == guideHref && isImageMediaType(item.MediaType) {
				return newCoverInfo(item, "guide")
			}
		}
		// Guide points to a non-image → fall through to the filename check
	}

	// Method 5: filename pattern
	for _, item := range items {
		if !isImageMediaType(item.MediaType) {
			continue
		}
		if strings.Contains(strings.ToLower(path.Base(item.Href)), "cover") {
			return newCoverInfo(item, "filename")
		}
	}

	return nil
}

func newCoverInfo(item ManifestItem, method string) *CoverInfo {
	return &CoverInfo{
		ManifestID:      item.ID,
		Href:            item.Href,
		MediaType:       item.MediaType,
		DetectionMethod: method,
	}
}

// orderedItems returns manifest items in document order. Items that are only
// present in the map (hand-built OPFs) follow, sorted by id.
func (opf *OPF) orderedItems() []ManifestItem {
	seen := make(map[string]struct{}, len(opf.Manifest))
	items := make([]ManifestItem, 0, len(opf.Manifest))

	for _, id := range opf.ManifestOrder {
		item, ok := opf.Manifest[id]
		if !ok {
			continue
		}
		items = append(items, item)
		seen[id] = struct{}{}
	}

	var rest []string
	for id := range opf.Manifest {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		items = append(items, opf.Manifest[id])
	}

	return items
}

// isImageMediaType checks if a media type is a raster image (SVG excluded).
func isImageMediaType(mediaType string) bool {
	if strings.EqualFold(mediaType, "image/svg+xml") {
		return false
	}
	return hasImagePrefix(mediaType)
}

func hasImagePrefix(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), "image/")
}

// isXHTMLMediaType checks if a media type indicates an XHTML content file.
func isXHTMLMediaType(mediaType string) bool {
	return strings.Contains(strings.ToLower(mediaType), "html")
}
