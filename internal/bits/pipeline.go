package bits

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/yuanying/epub2bits/internal/epub"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

const (
	UnknownTitle  = "Unknown Title"
	UnknownAuthor = "Unknown Author"
)

// Options holds options for a conversion run.
type Options struct {
	// WordsPerBit is the word threshold that closes a bit. Zero means DefaultWordsPerBit.
	WordsPerBit int

	// MaxImageWidth downscales wider images when positive. Zero keeps images byte-for-byte.
	MaxImageWidth int
	JPEGQuality   int

	CoverJPEGQuality int

	// Workers bounds how many documents are segmented at once. Values below 1 mean 1.
	Workers int

	// ScratchDir is where per-run directories are created (os.TempDir when empty).
	ScratchDir string

	Logger *slog.Logger
}

// Result is everything a run produced.
type Result struct {
	Metadata    Metadata
	Bits        []Bit
	Images      []ImageAsset
	Diagnostics []Diagnostic
	Archive     []byte
}

// Pipeline orchestrates the EPUB to bits conversion. It holds configuration
// only; every Run gets its own package, store and diagnostics, so one
// Pipeline may serve concurrent runs.
type Pipeline struct {
	Options Options
}

// NewPipeline creates a new conversion pipeline.
func NewPipeline(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WordsPerBit <= 0 {
		opts.WordsPerBit = DefaultWordsPerBit
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pipeline{Options: opts}
}

// Run converts one EPUB. Only ErrInvalidContainer, ErrEmptyOutput and
// context errors abort; every other problem ends up in Result.Diagnostics.
func (p *Pipeline) Run(ctx context.Context, data []byte) (*Result, error) {
	logger := p.Options.Logger

	pkg, err := epub.OpenBytesPackage(data)
	if err != nil {
		return nil, err
	}
	defer pkg.Close()

	store, err := NewStore(p.Options.ScratchDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to remove scratch directory", "dir", store.Dir(), "err", err)
		}
	}()

	res := &Result{Metadata: buildMetadata(pkg.Metadata())}

	coverPath, err := materializeCover(pkg, store, p.Options.CoverJPEGQuality)
	if err != nil {
		logger.Warn("cover extraction failed", "err", err)
		res.Diagnostics = append(res.Diagnostics, newDiagnostic(KindCover, CoverFileName, err))
	}
	res.Metadata.CoverImage = coverPath

	optimizer := NewImageOptimizer(p.Options.MaxImageWidth, p.Options.JPEGQuality, logger)
	segmenter := NewSegmenter(pkg, NewMaterializer(pkg, store, optimizer, logger), logger)

	segments, err := p.segmentAll(ctx, segmenter, pkg.ItemsInSpineOrder())
	if err != nil {
		return nil, err
	}

	partitioner := NewPartitioner(p.Options.WordsPerBit)
	for _, seg := range segments {
		res.Diagnostics = append(res.Diagnostics, seg.Diagnostics...)
		for _, n := range seg.Nodes {
			if b, ok := partitioner.Add(n); ok {
				res.Bits = append(res.Bits, b)
			}
		}
	}
	if b, ok := partitioner.Flush(); ok {
		res.Bits = append(res.Bits, b)
	}

	res.Diagnostics = append(res.Diagnostics, store.Collisions()...)
	res.Images = store.Images()

	archive, err := Assemble(res.Bits, res.Images, &res.Metadata)
	if err != nil {
		return nil, err
	}
	res.Archive = archive

	logger.Info("conversion finished",
		"title", res.Metadata.Title,
		"bits", res.Metadata.TotalBits,
		"images", len(res.Images),
		"warnings", len(res.Diagnostics),
	)
	return res, nil
}

// segmentAll segments documents on up to Options.Workers goroutines. The
// returned slice is indexed by spine position, so node order is the reading
// order regardless of completion order. Documents that fail to parse yield
// an empty segment carrying a document-parse diagnostic.
func (p *Pipeline) segmentAll(ctx context.Context, segmenter *Segmenter, docs []epub.ManifestItem) ([]*Segment, error) {
	logger := p.Options.Logger
	segments := make([]*Segment, len(docs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Options.Workers)

	for i, item := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			seg, err := segmenter.Segment(ctx, i, item)
			var perr *DocumentParseError
			switch {
			case err == nil:
				segments[i] = seg
			case errors.As(err, &perr):
				logger.Warn("skipping document", "href", item.Href, "err", perr.Err)
				segments[i] = &Segment{Diagnostics: []Diagnostic{newDiagnostic(KindDocumentParse, item.Href, perr.Err)}}
			default:
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return segments, nil
}

// buildMetadata picks title and author, substituting the documented
// defaults when the book has none.
func buildMetadata(md epub.Metadata) Metadata {
	title := cleanText(md.Title)
	if title == "" {
		title = UnknownTitle
	}
	author := cleanText(md.Author())
	if author == "" {
		author = UnknownAuthor
	}
	return Metadata{Title: title, Author: author}
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
