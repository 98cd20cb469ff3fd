package bits

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuanying/epub2bits/internal/epub"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// structuralTags is the allow-list of elements that become nodes.
var structuralTags = map[atom.Atom]bool{
	atom.H1:    true,
	atom.H2:    true,
	atom.H3:    true,
	atom.H4:    true,
	atom.H5:    true,
	atom.H6:    true,
	atom.P:     true,
	atom.Img:   true,
	atom.Ul:    true,
	atom.Ol:    true,
	atom.Li:    true,
	atom.Table: true,
	atom.Tr:    true,
	atom.Td:    true,
}

// Node is one allow-listed element of a document, serialized after image
// rewriting.
type Node struct {
	HTML  string
	Words int
	Doc   int // position of the source document in the spine
}

// Segment is the output of segmenting one document.
type Segment struct {
	Nodes       []Node
	Diagnostics []Diagnostic
}

// Segmenter turns spine documents into structural nodes.
type Segmenter struct {
	pkg    *epub.Package
	images *Materializer
	logger *slog.Logger
}

// NewSegmenter creates a Segmenter. images may be nil, in which case image
// references are never rewritten.
func NewSegmenter(pkg *epub.Package, images *Materializer, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{pkg: pkg, images: images, logger: logger}
}

// Segment reads and segments the document at spine position docIndex.
// Read and parse failures are returned as *DocumentParseError.
func (s *Segmenter) Segment(ctx context.Context, docIndex int, item epub.ManifestItem) (*Segment, error) {
	data, err := s.pkg.Content(item)
	if err != nil {
		return nil, &DocumentParseError{Href: item.Href, Err: err}
	}

	content, err := epub.LoadContent(item.ID, item.Href, data)
	if err != nil {
		return nil, &DocumentParseError{Href: item.Href, Err: err}
	}

	return s.segmentDocument(ctx, docIndex, item.Href, content.Document)
}

func (s *Segmenter) segmentDocument(ctx context.Context, docIndex int, docHref string, doc *goquery.Document) (seg *Segment, err error) {
	defer func() {
		// x/net/html rendering panics on some pathological trees; keep it to this document
		if r := recover(); r != nil {
			seg, err = nil, &DocumentParseError{Href: docHref, Err: fmt.Errorf("panic while segmenting: %v", r)}
		}
	}()

	seg = &Segment{}

	doc.Find("script").Remove()

	// Images reach the store only once the whole document has segmented.
	var staged []*StagedImage
	if s.images != nil {
		seq := 0
		doc.Find("img[src]").Each(func(i int, img *goquery.Selection) {
			src, _ := img.Attr("src")
			si, err := s.images.Stage(docHref, src, Order{Doc: docIndex, Seq: seq})
			seq++
			if err != nil {
				s.logger.Warn("image left unresolved", "doc", docHref, "src", src, "err", err)
				seg.Diagnostics = append(seg.Diagnostics, newDiagnostic(KindImageResolution, src, err))
				return
			}
			img.SetAttr("src", si.Name)
			staged = append(staged, si)
		})
	}

	var walkErr error
	doc.Find("*").FilterFunction(func(i int, sel *goquery.Selection) bool {
		return structuralTags[sel.Get(0).DataAtom]
	}).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if err := ctx.Err(); err != nil {
			walkErr = err
			return false
		}

		n := sel.Get(0)
		outer, err := goquery.OuterHtml(sel)
		if err != nil {
			walkErr = &DocumentParseError{Href: docHref, Err: fmt.Errorf("serialize <%s>: %w", n.Data, err)}
			return false
		}

		words := 0
		if n.DataAtom != atom.Img {
			words = countWords(n)
		}

		seg.Nodes = append(seg.Nodes, Node{
			HTML:  outer,
			Words: words,
			Doc:   docIndex,
		})
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	for _, si := range staged {
		if err := s.images.Commit(si); err != nil {
			s.logger.Warn("failed to store image", "doc", docHref, "src", si.Src, "err", err)
			seg.Diagnostics = append(seg.Diagnostics, newDiagnostic(KindImageResolution, si.Src, err))
		}
	}

	return seg, nil
}

// countWords counts whitespace-separated tokens in the text of n, treating
// the boundary between two text nodes as whitespace.
func countWords(n *html.Node) int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			count += len(strings.Fields(n.Data))
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return count
}
