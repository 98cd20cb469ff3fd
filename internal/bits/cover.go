package bits

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/yuanying/epub2bits/internal/epub"
	_ "golang.org/x/image/webp" // EPUB 3.3 allows WebP covers
)

const (
	// CoverFileName is the fixed name the cover image is stored under.
	CoverFileName = "cover.jpg"

	defaultCoverJPEGQuality = 90
)

// coverOrder sorts before every document image, so an inline image that is
// also called cover.jpg replaces the extracted cover.
var coverOrder = Order{Doc: -1}

// materializeCover writes the detected cover to the store as cover.jpg,
// re-encoding it as JPEG (GIF, PNG, JPEG and WebP sources decode). Images
// that cannot be decoded are copied as-is.
// It returns "" and no error when the book has no cover.
func materializeCover(pkg *epub.Package, store *Store, quality int) (string, error) {
	cover := pkg.DetectCover()
	if cover == nil {
		return "", nil
	}

	item, ok := pkg.ResolveByID(cover.ManifestID)
	if !ok {
		return "", fmt.Errorf("cover item %q not in manifest", cover.ManifestID)
	}

	data, err := pkg.Content(item)
	if err != nil {
		return "", fmt.Errorf("failed to read cover %s: %w", item.Href, err)
	}

	if quality <= 0 || quality > 100 {
		quality = defaultCoverJPEGQuality
	}
	if encoded, err := encodeJPEG(data, quality); err == nil {
		data = encoded
	}

	if err := store.PutImage(CoverFileName, item.Href, coverOrder, data); err != nil {
		return "", err
	}
	return CoverFileName, nil
}

func encodeJPEG(data []byte, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
