package bits

import (
	"errors"
	"fmt"

	"github.com/yuanying/epub2bits/internal/epub"
)

var (
	// ErrInvalidContainer is returned when the input cannot be read as an
	// EPUB. It aborts the run.
	ErrInvalidContainer = epub.ErrInvalidContainer

	// ErrEmptyOutput is returned when a run parsed the book but produced an
	// archive without any content. It aborts the run.
	ErrEmptyOutput = errors.New("bits: archive has no content")

	ErrImageNotFound = errors.New("image not found in manifest")
	ErrNotAnImage    = errors.New("manifest item is not an image")
	ErrExternalImage = errors.New("image reference is not inside the book")
)

// DocumentParseError reports a spine document that could not be read or
// parsed. The document is skipped; the run continues.
type DocumentParseError struct {
	Href string
	Err  error
}

func (e *DocumentParseError) Error() string {
	return fmt.Sprintf("document %s: %v", e.Href, e.Err)
}

func (e *DocumentParseError) Unwrap() error { return e.Err }

// ImageResolutionError reports an <img> whose source could not be
// materialized. The reference is left untouched; the run continues.
type ImageResolutionError struct {
	Src string
	Err error
}

func (e *ImageResolutionError) Error() string {
	return fmt.Sprintf("image %q: %v", e.Src, e.Err)
}

func (e *ImageResolutionError) Unwrap() error { return e.Err }

// DiagnosticKind classifies a non-fatal issue found during a run.
type DiagnosticKind string

const (
	KindDocumentParse   DiagnosticKind = "document-parse"
	KindImageResolution DiagnosticKind = "image-resolution"
	KindImageCollision  DiagnosticKind = "image-collision"
	KindCover           DiagnosticKind = "cover"
)

// Diagnostic is a recoverable problem collected during a run and surfaced
// to the caller as a warning.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Subject string         `json:"subject"`
	Message string         `json:"message"`
}

func newDiagnostic(kind DiagnosticKind, subject string, err error) Diagnostic {
	return Diagnostic{Kind: kind, Subject: subject, Message: err.Error()}
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Kind, d.Subject, d.Message)
}
