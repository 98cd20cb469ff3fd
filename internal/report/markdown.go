package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/yuanying/epub2bits/internal/bits"
	"github.com/yuanying/epub2bits/internal/history"
)

// WriteRun writes a Markdown summary of a conversion: metadata, one row per
// bit, the images written and any warnings.
func WriteRun(w io.Writer, source string, res *bits.Result) error {
	md := markdown.NewMarkdown(w)

	md.H1(res.Metadata.Title)
	md.PlainText("")
	cover := res.Metadata.CoverImage
	if cover == "" {
		cover = "-"
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Source", source},
			{"Author", res.Metadata.Author},
			{"Cover", cover},
			{"Total bits", strconv.Itoa(res.Metadata.TotalBits)},
			{"Images", strconv.Itoa(len(res.Images))},
		},
	})
	md.PlainText("")

	md.H2("Bits")
	md.PlainText("")
	if len(res.Bits) == 0 {
		md.PlainText("No bits were produced.")
	} else {
		rows := make([][]string, 0, len(res.Bits))
		for _, b := range res.Bits {
			rows = append(rows, []string{strconv.Itoa(b.Index), strconv.Itoa(b.Words), strconv.Itoa(len(b.HTML))})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Bit", "Words", "HTML bytes"},
			Rows:   rows,
		})
	}
	md.PlainText("")

	if len(res.Images) > 0 {
		md.H2("Images")
		md.PlainText("")
		rows := make([][]string, 0, len(res.Images))
		for _, img := range res.Images {
			rows = append(rows, []string{img.Name, img.Source})
		}
		md.Table(markdown.TableSet{
			Header: []string{"File", "Source"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	md.H2("Warnings")
	md.PlainText("")
	if len(res.Diagnostics) == 0 {
		md.Tip("No warnings.")
	} else {
		md.Warningf("%d item(s) were skipped or left unresolved.", len(res.Diagnostics))
		md.PlainText("")
		items := make([]string, 0, len(res.Diagnostics))
		for _, d := range res.Diagnostics {
			items = append(items, d.String())
		}
		md.BulletList(items...)
	}

	return md.Build()
}

// WriteHistory writes runs as a Markdown table.
func WriteHistory(w io.Writer, runs []history.Run) error {
	md := markdown.NewMarkdown(w)

	if len(runs) == 0 {
		md.PlainText("No conversions recorded yet.")
		return md.Build()
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		digest := r.Digest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		rows = append(rows, []string{
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Title,
			r.Author,
			strconv.Itoa(r.TotalBits),
			strconv.Itoa(r.Images),
			strconv.Itoa(r.Warnings),
			"`" + digest + "`",
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Date", "Title", "Author", "Bits", "Images", "Warnings", "Digest"},
		Rows:   rows,
	})
	return md.Build()
}
