package bits

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/yuanying/epub2bits/internal/epub"
	"github.com/yuanying/epub2bits/internal/epub/epubtest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openPackage(t *testing.T, b *epubtest.Book) *epub.Package {
	t.Helper()
	pkg, err := epub.OpenBytesPackage(b.MustBytes())
	if err != nil {
		t.Fatalf("OpenBytesPackage() error = %v", err)
	}
	t.Cleanup(func() { _ = pkg.Close() })
	return pkg
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// readArchive returns the entries of a zip archive in order, and their contents by name.
func readArchive(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive is not a zip: %v", err)
	}

	var names []string
	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("failed to read %s: %v", f.Name, err)
		}
		names = append(names, f.Name)
		files[f.Name] = content
	}
	return names, files
}
