package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxEntrySize caps the decompressed size of a single zip entry.
const maxEntrySize int64 = 256 * 1024 * 1024

// EPUBReader provides access to EPUB file contents
type EPUBReader struct {
	zipReader *zip.Reader
	closer    io.Closer
	files     map[string]*zip.File
	opfPath   string
}

// container.xml structure
type container struct {
	Rootfiles struct {
		Rootfile []struct {
			FullPath  string `xml:"full-path,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"rootfile"`
	} `xml:"rootfiles"`
}

var (
	// ErrInvalidContainer is the umbrella error for input that cannot be read
	// as an EPUB at all. Every error returned by Open, OpenReader and
	// OpenBytes wraps it.
	ErrInvalidContainer = errors.New("epub: invalid container")

	ErrInvalidMimetype   = errors.New("invalid mimetype: must be 'application/epub+zip'")
	ErrContainerNotFound = errors.New("META-INF/container.xml not found")
	ErrOPFPathNotFound   = errors.New("OPF path not found in container.xml")
	ErrFileNotFound      = errors.New("file not found in archive")
	ErrEntryTooLarge     = errors.New("zip entry exceeds size limit")
)

// Open opens an EPUB file on disk and validates its structure
func Open(path string) (*EPUBReader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open EPUB: %w", ErrInvalidContainer, err)
	}

	reader, err := newReader(&zr.Reader)
	if err != nil {
		zr.Close()
		return nil, err
	}
	reader.closer = zr
	return reader, nil
}

// OpenReader opens an EPUB from an io.ReaderAt of the given size
func OpenReader(ra io.ReaderAt, size int64) (*EPUBReader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open EPUB: %w", ErrInvalidContainer, err)
	}
	return newReader(zr)
}

// OpenBytes opens an EPUB held entirely in memory
func OpenBytes(data []byte) (*EPUBReader, error) {
	return OpenReader(bytes.NewReader(data), int64(len(data)))
}

func newReader(zr *zip.Reader) (*EPUBReader, error) {
	reader := &EPUBReader{
		zipReader: zr,
		files:     make(map[string]*zip.File),
	}

	// Build file map with normalized paths; the first entry of a duplicated name wins
	for _, f := range zr.File {
		name := normalizePath(f.Name)
		if _, exists := reader.files[name]; exists {
			continue
		}
		reader.files[name] = f
	}

	if err := reader.validateMimetype(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContainer, err)
	}

	if err := checkDRM(reader); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContainer, err)
	}

	if err := reader.parseContainer(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContainer, err)
	}

	return reader, nil
}

// Close closes the EPUB reader. It is a no-op for in-memory readers.
func (r *EPUBReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// OPFPath returns the path to the OPF file
func (r *EPUBReader) OPFPath() string {
	return r.opfPath
}

// Files returns a map of all files in the EPUB
func (r *EPUBReader) Files() map[string]*zip.File {
	return r.files
}

// ReadFile reads the contents of a file from the EPUB
func (r *EPUBReader) ReadFile(path string) ([]byte, error) {
	path = normalizePath(path)
	f, ok := r.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return readZipFile(f, maxEntrySize)
}

// readZipFile reads a zip entry, refusing to decompress more than limit bytes.
// The declared size is not trusted; the limit is also enforced while reading.
func readZipFile(f *zip.File, limit int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrEntryTooLarge, f.Name, f.UncompressedSize64)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, f.Name)
	}
	return data, nil
}

// validateMimetype checks the mimetype file when it exists.
// A missing or compressed mimetype is tolerated: plenty of books in the
// wild are zipped without care and still read fine.
func (r *EPUBReader) validateMimetype() error {
	if _, ok := r.files["mimetype"]; !ok {
		return nil
	}

	content, err := r.ReadFile("mimetype")
	if err != nil {
		return fmt.Errorf("failed to read mimetype: %w", err)
	}

	if strings.TrimSpace(string(content)) != "application/epub+zip" {
		return ErrInvalidMimetype
	}

	return nil
}

// parseContainer parses container.xml to extract OPF path
func (r *EPUBReader) parseContainer() error {
	content, err := r.ReadFile("META-INF/container.xml")
	if err != nil {
		return ErrContainerNotFound
	}

	var c container
	if err := xml.Unmarshal(stripBOM(content), &c); err != nil {
		return fmt.Errorf("failed to parse container.xml: %w", err)
	}

	// Find the OPF file path
	for _, rf := range c.Rootfiles.Rootfile {
		if rf.FullPath == "" {
			continue
		}
		if rf.MediaType == "application/oebps-package+xml" || rf.MediaType == "" {
			r.opfPath = normalizePath(rf.FullPath)
			return nil
		}
	}

	// If no media-type match, use the first one
	if len(c.Rootfiles.Rootfile) > 0 && c.Rootfiles.Rootfile[0].FullPath != "" {
		r.opfPath = normalizePath(c.Rootfiles.Rootfile[0].FullPath)
		return nil
	}

	return ErrOPFPathNotFound
}

// normalizePath normalizes file paths (removes ./ and leading / prefixes)
func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "/")
	return path
}

// stripBOM removes a leading UTF-8 byte order mark
func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
}
