package bits

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// BitSeparator is placed between consecutive bits in the payload.
	BitSeparator = "\n\n<!-- BIT SEPARATOR -->\n\n"

	payloadName = "all_bits.html"
)

// Metadata is the out-of-band record delivered next to the archive.
type Metadata struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	CoverImage string `json:"cover_image,omitempty"`
	TotalBits  int    `json:"total_bits"`
}

// JoinBits concatenates bit fragments with BitSeparator, in index order.
func JoinBits(bits []Bit) string {
	parts := make([]string, len(bits))
	for i, b := range bits {
		parts[i] = b.HTML
	}
	return strings.Join(parts, BitSeparator)
}

// Assemble packages the bits and images into a zip archive: one
// all_bits.html entry plus one entry per image, named by basename.
// md.TotalBits is set to len(bits). ErrEmptyOutput is returned when no
// content bytes end up in the archive.
func Assemble(bits []Bit, images []ImageAsset, md *Metadata) ([]byte, error) {
	if md != nil {
		md.TotalBits = len(bits)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	counter := &countingWriter{}

	w, err := zw.Create(payloadName)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", payloadName, err)
	}
	if _, err := io.WriteString(io.MultiWriter(w, counter), JoinBits(bits)); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", payloadName, err)
	}

	for _, img := range images {
		if err := addFile(zw, img.Name, img.Path, counter); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	if counter.n == 0 || buf.Len() == 0 {
		return nil, ErrEmptyOutput
	}
	return buf.Bytes(), nil
}

func addFile(zw *zip.Writer, name, path string, counter *countingWriter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := io.Copy(io.MultiWriter(w, counter), f); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
