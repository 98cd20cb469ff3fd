package bits

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/yuanying/epub2bits/internal/epub"
)

const defaultJPEGQuality = 85

// Materializer copies images referenced by documents into the run's store
// and hands back the local file name to put in the src attribute.
type Materializer struct {
	pkg       *epub.Package
	store     *Store
	optimizer *ImageOptimizer
	logger    *slog.Logger
}

// NewMaterializer creates a Materializer. A nil optimizer writes images
// byte-for-byte.
func NewMaterializer(pkg *epub.Package, store *Store, optimizer *ImageOptimizer, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{pkg: pkg, store: store, optimizer: optimizer, logger: logger}
}

// StagedImage is a resolved image held in memory until Commit writes it.
type StagedImage struct {
	Name   string // basename the src attribute is rewritten to
	Src    string // reference as written in the document
	Source string // container href of the manifest item

	order Order
	data  []byte
}

// Stage resolves src (as found in the document at docHref) and reads the
// image, without touching the store. On failure it returns an
// *ImageResolutionError and the caller keeps the original reference.
func (m *Materializer) Stage(docHref, src string, order Order) (*StagedImage, error) {
	name := imageBaseName(src)
	if name == "" {
		return nil, &ImageResolutionError{Src: src, Err: ErrExternalImage}
	}

	item, ok := m.pkg.ResolveReference(docHref, src)
	if !ok {
		return nil, &ImageResolutionError{Src: src, Err: ErrImageNotFound}
	}
	if !item.IsImage() {
		return nil, &ImageResolutionError{Src: src, Err: fmt.Errorf("%w: %s", ErrNotAnImage, item.MediaType)}
	}

	data, err := m.pkg.Content(item)
	if err != nil {
		return nil, &ImageResolutionError{Src: src, Err: err}
	}

	if m.optimizer != nil {
		data = m.optimizer.Optimize(name, data)
	}

	return &StagedImage{Name: name, Src: src, Source: item.Href, order: order, data: data}, nil
}

// Commit writes a staged image to the store under its Name.
func (m *Materializer) Commit(img *StagedImage) error {
	if err := m.store.PutImage(img.Name, img.Source, img.order, img.data); err != nil {
		return &ImageResolutionError{Src: img.Src, Err: err}
	}
	m.logger.Debug("materialized image", "src", img.Src, "href", img.Source, "name", img.Name)
	return nil
}

// imageBaseName returns basename(src) exactly as written, minus any query
// or fragment, or "" for references that can never be local (data URIs,
// remote URLs). Percent escapes are kept so the rewritten src still names
// the stored file.
func imageBaseName(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	if u, err := url.Parse(src); err == nil && (u.Scheme != "" || u.Host != "") {
		return ""
	}
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	base := path.Base(src)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// ImageOptimizer downscales raster images wider than MaxWidth. Images that
// cannot be decoded, or are already small enough, pass through untouched.
type ImageOptimizer struct {
	MaxWidth    int
	JPEGQuality int
	logger      *slog.Logger
}

// NewImageOptimizer returns nil when maxWidth is not positive, which
// disables optimization.
func NewImageOptimizer(maxWidth, jpegQuality int, logger *slog.Logger) *ImageOptimizer {
	if maxWidth <= 0 {
		return nil
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = defaultJPEGQuality
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageOptimizer{MaxWidth: maxWidth, JPEGQuality: jpegQuality, logger: logger}
}

// Optimize returns data resized to MaxWidth, re-encoded in the format implied
// by name. Any failure returns the input unchanged.
func (o *ImageOptimizer) Optimize(name string, data []byte) []byte {
	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		return data
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= o.MaxWidth {
		return data
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		o.logger.Warn("image decode failed, keeping original", "name", name, "err", err)
		return data
	}

	resized := imaging.Resize(src, o.MaxWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(o.JPEGQuality)); err != nil {
		o.logger.Warn("image encode failed, keeping original", "name", name, "err", err)
		return data
	}
	return buf.Bytes()
}
