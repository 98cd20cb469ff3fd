package bits

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"os"
	"strings"
	"testing"

	"github.com/yuanying/epub2bits/internal/epub/epubtest"
)

func runPipeline(t *testing.T, b *epubtest.Book, opts Options) (*Result, error) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = t.TempDir()
	}
	return NewPipeline(opts).Run(context.Background(), b.MustBytes())
}

func TestPipeline_Run(t *testing.T) {
	png := epubtest.PNG(8, 8, color.White)
	b := epubtest.New("The Book", "Ann Author").
		AddDocument("ch1", "text/ch1.xhtml", "<h1>One</h1><p>"+epubtest.Words(699)+"</p>").
		AddDocument("ch2", "text/ch2.xhtml", `<p>`+epubtest.Words(700)+`</p><img src="../images/fig.png"/>`).
		AddImage("fig", "images/fig.png", "image/png", png)

	res, err := runPipeline(t, b, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Metadata.Title != "The Book" || res.Metadata.Author != "Ann Author" {
		t.Errorf("Metadata = %+v", res.Metadata)
	}
	// 1 + 699 + 700 crosses 1250 on the second document's paragraph; the image trails
	if len(res.Bits) != 2 || res.Metadata.TotalBits != 2 {
		t.Fatalf("bits = %d (TotalBits %d), want 2", len(res.Bits), res.Metadata.TotalBits)
	}
	if res.Bits[0].Words != 1400 || res.Bits[1].Words != 0 {
		t.Errorf("bit words = %d/%d, want 1400/0", res.Bits[0].Words, res.Bits[1].Words)
	}
	if res.Bits[1].HTML != `<img src="fig.png"/>` {
		t.Errorf("trailing bit = %q", res.Bits[1].HTML)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v, want none", res.Diagnostics)
	}

	names, files := readArchive(t, res.Archive)
	if len(names) != 2 || names[0] != "all_bits.html" || names[1] != "fig.png" {
		t.Fatalf("archive entries = %v", names)
	}
	if got := string(files["all_bits.html"]); got != JoinBits(res.Bits) {
		t.Errorf("all_bits.html does not match the bits")
	}
	if !bytes.Equal(files["fig.png"], png) {
		t.Error("fig.png differs from the source image")
	}
}

func TestPipeline_ExactThresholdIsOneBit(t *testing.T) {
	b := epubtest.New("x", "y").AddDocument("ch1", "ch1.xhtml", "<p>"+epubtest.Words(1250)+"</p>")
	res, err := runPipeline(t, b, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Bits) != 1 || res.Bits[0].Words != 1250 {
		t.Fatalf("Bits = %+v, want one bit of 1250 words", res.Bits)
	}
	_, files := readArchive(t, res.Archive)
	if strings.Contains(string(files["all_bits.html"]), "BIT SEPARATOR") {
		t.Error("single bit payload contains a separator")
	}
}

func TestPipeline_DocumentBoundariesAreNotBitBoundaries(t *testing.T) {
	b := epubtest.New("x", "y").
		AddDocument("ch1", "ch1.xhtml", "<p>"+epubtest.Words(700)+"</p>").
		AddDocument("ch2", "ch2.xhtml", "<p>"+epubtest.Words(700)+"</p>")
	res, err := runPipeline(t, b, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Bits) != 1 || res.Bits[0].Words != 1400 {
		t.Fatalf("Bits = %d, want one bit of 1400 words", len(res.Bits))
	}
}

func TestPipeline_MetadataDefaults(t *testing.T) {
	tests := []struct {
		name       string
		book       *epubtest.Book
		wantTitle  string
		wantAuthor string
	}{
		{
			name:       "missing",
			book:       epubtest.New(""),
			wantTitle:  UnknownTitle,
			wantAuthor: UnknownAuthor,
		},
		{
			name:       "whitespace only",
			book:       epubtest.New("   ", " "),
			wantTitle:  UnknownTitle,
			wantAuthor: UnknownAuthor,
		},
		{
			name:       "normalized",
			book:       epubtest.New("  Café   Stories ", "First Author", "Second Author"),
			wantTitle:  "Café Stories",
			wantAuthor: "First Author",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.book.AddDocument("ch1", "ch1.xhtml", "<p>some text</p>")
			res, err := runPipeline(t, tt.book, Options{})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Metadata.Title != tt.wantTitle || res.Metadata.Author != tt.wantAuthor {
				t.Errorf("Metadata = %q/%q, want %q/%q", res.Metadata.Title, res.Metadata.Author, tt.wantTitle, tt.wantAuthor)
			}
		})
	}
}

func TestPipeline_InvalidContainer(t *testing.T) {
	_, err := NewPipeline(Options{Logger: discardLogger()}).Run(context.Background(), []byte("PK not really"))
	if !errors.Is(err, ErrInvalidContainer) {
		t.Fatalf("Run() error = %v, want ErrInvalidContainer", err)
	}
	if errors.Is(err, ErrEmptyOutput) {
		t.Error("invalid container reported as empty output")
	}
}

func TestPipeline_EmptyOutput(t *testing.T) {
	b := epubtest.New("Scripts").AddDocument("ch1", "ch1.xhtml", "<script>var x = 1;</script>")
	_, err := runPipeline(t, b, Options{})
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("Run() error = %v, want ErrEmptyOutput", err)
	}
}

func TestPipeline_BrokenDocumentIsSkipped(t *testing.T) {
	b := epubtest.New("x", "y").
		AddDocument("ch1", "ch1.xhtml", "<p>before</p>").
		AddItem(epubtest.Item{ID: "broken", Href: "broken.xhtml", MediaType: "application/xhtml+xml"}).
		AddDocument("ch3", "ch3.xhtml", "<p>after</p>")

	res, err := runPipeline(t, b, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Bits) != 1 || res.Bits[0].HTML != "<p>before</p>\n<p>after</p>" {
		t.Fatalf("Bits = %+v", res.Bits)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != KindDocumentParse || res.Diagnostics[0].Subject != "OEBPS/broken.xhtml" {
		t.Errorf("Diagnostics = %v, want one document-parse for OEBPS/broken.xhtml", res.Diagnostics)
	}
}

func TestPipeline_UnresolvedImageKeepsSrc(t *testing.T) {
	b := epubtest.New("x", "y").AddDocument("ch1", "ch1.xhtml", `<p>text</p><img src="images/missing.png"/>`)

	res, err := runPipeline(t, b, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(res.Bits[0].HTML, `src="images/missing.png"`) {
		t.Errorf("src rewritten: %q", res.Bits[0].HTML)
	}
	names, _ := readArchive(t, res.Archive)
	if len(names) != 1 {
		t.Errorf("archive entries = %v, want only all_bits.html", names)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != KindImageResolution {
		t.Errorf("Diagnostics = %v", res.Diagnostics)
	}
}

func TestPipeline_ImageCollision(t *testing.T) {
	first := epubtest.PNG(2, 2, color.White)
	second := epubtest.PNG(3, 3, color.Black)
	b := epubtest.New("x", "y").
		AddDocument("ch1", "ch1.xhtml", `<p>one</p><img src="a/pic.png"/>`).
		AddDocument("ch2", "ch2.xhtml", `<p>two</p><img src="b/pic.png"/>`).
		AddImage("a", "a/pic.png", "image/png", first).
		AddImage("b", "b/pic.png", "image/png", second)

	for _, workers := range []int{1, 4} {
		res, err := runPipeline(t, b, Options{Workers: workers})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		_, files := readArchive(t, res.Archive)
		if !bytes.Equal(files["pic.png"], second) {
			t.Errorf("workers=%d: pic.png is not the last referenced image", workers)
		}
		if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != KindImageCollision {
			t.Errorf("workers=%d: Diagnostics = %v, want one image-collision", workers, res.Diagnostics)
		}
	}
}

func TestPipeline_Cover(t *testing.T) {
	b := epubtest.New("Covered", "y").
		AddDocument("ch1", "ch1.xhtml", "<p>text</p>").
		AddItem(epubtest.Item{ID: "cover-art", Href: "images/art.png", MediaType: "image/png", Properties: "cover-image", Data: epubtest.PNG(10, 10, color.White)})

	res, err := runPipeline(t, b, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Metadata.CoverImage != CoverFileName {
		t.Errorf("CoverImage = %q, want %q", res.Metadata.CoverImage, CoverFileName)
	}
	_, files := readArchive(t, res.Archive)
	cover, ok := files[CoverFileName]
	if !ok {
		t.Fatal("archive has no cover.jpg")
	}
	if !bytes.HasPrefix(cover, []byte{0xFF, 0xD8}) {
		t.Error("cover.jpg is not a JPEG")
	}
}

func TestPipeline_DocumentImageOverridesCover(t *testing.T) {
	inline := []byte("inline cover bytes")
	b := epubtest.New("x", "y").
		AddDocument("ch1", "ch1.xhtml", `<p>text</p><img src="inline/cover.jpg"/>`).
		AddImage("cover", "images/front.jpg", "image/jpeg", epubtest.JPEG(4, 4, color.White)).
		AddImage("inline", "inline/cover.jpg", "image/jpeg", inline)

	res, err := runPipeline(t, b, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	_, files := readArchive(t, res.Archive)
	if !bytes.Equal(files[CoverFileName], inline) {
		t.Error("document image did not replace the extracted cover")
	}
}

func TestPipeline_Deterministic(t *testing.T) {
	b := epubtest.New("Many", "Docs")
	for i := 0; i < 12; i++ {
		id := "ch" + string(rune('a'+i))
		b.AddDocument(id, id+".xhtml", `<h2>`+id+`</h2><p>`+epubtest.Words(150+i*10)+`</p><img src="shared.png"/>`)
	}
	b.AddImage("shared", "shared.png", "image/png", epubtest.PNG(2, 2, color.White))

	want, err := runPipeline(t, b, Options{Workers: 1, WordsPerBit: 500})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, workers := range []int{2, 8, 8} {
		got, err := runPipeline(t, b, Options{Workers: workers, WordsPerBit: 500})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if JoinBits(got.Bits) != JoinBits(want.Bits) {
			t.Errorf("workers=%d: bits differ from the sequential run", workers)
		}
		if !bytes.Equal(got.Archive, want.Archive) {
			t.Errorf("workers=%d: archive differs from the sequential run", workers)
		}
	}
}

func TestPipeline_ScratchDirectoryRemoved(t *testing.T) {
	scratch := t.TempDir()
	b := epubtest.New("x", "y").
		AddDocument("ch1", "ch1.xhtml", `<p>a</p><img src="a.png"/>`).
		AddImage("a", "a.png", "image/png", epubtest.PNG(1, 1, color.White))

	if _, err := runPipeline(t, b, Options{ScratchDir: scratch}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := runPipeline(t, epubtest.New("empty").AddDocument("ch1", "ch1.xhtml", ""), Options{ScratchDir: scratch}); !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("Run() error = %v, want ErrEmptyOutput", err)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch directory not cleaned: %v", entries)
	}
}

func TestPipeline_ContextCancelled(t *testing.T) {
	b := epubtest.New("x").AddDocument("ch1", "ch1.xhtml", "<p>a</p>")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(Options{Logger: discardLogger(), ScratchDir: t.TempDir()}).Run(ctx, b.MustBytes())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestPipeline_SelfClosingHeadElements(t *testing.T) {
	heads := map[string]string{
		"title":  `<title/>`,
		"script": `<script type="text/javascript" src="x.js"/>`,
	}

	for name, head := range heads {
		t.Run(name, func(t *testing.T) {
			doc := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>` + head + `</head>
<body><h1>Chapter</h1><p>one two three</p></body>
</html>`
			b := epubtest.New("Head", "y").AddRawDocument("ch1", "ch1.xhtml", []byte(doc))

			res, err := runPipeline(t, b, Options{})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(res.Bits) != 1 {
				t.Fatalf("bits = %d, want 1", len(res.Bits))
			}
			if got, want := res.Bits[0].HTML, "<h1>Chapter</h1>\n<p>one two three</p>"; got != want {
				t.Errorf("bit HTML = %q, want %q", got, want)
			}
			if res.Bits[0].Words != 4 {
				t.Errorf("bit words = %d, want 4", res.Bits[0].Words)
			}
		})
	}
}
