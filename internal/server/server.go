package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/yuanying/epub2bits/internal/bits"
	"github.com/yuanying/epub2bits/internal/history"
)

// DownloadName is the attachment name of the returned archive.
const DownloadName = "processed_epub.zip"

// Runner converts one EPUB. *bits.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, data []byte) (*bits.Result, error)
}

// Recorder stores completed runs. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, run history.Run) (int64, error)
}

// Options configures a Server.
type Options struct {
	Runner   Runner
	Recorder Recorder // optional
	MaxBytes int64
	Logger   *slog.Logger
}

// Server is the HTTP upload/download surface around the pipeline.
type Server struct {
	runner   Runner
	recorder Recorder
	maxBytes int64
	logger   *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 100 << 20
	}
	return &Server{
		runner:   opts.Runner,
		recorder: opts.Recorder,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	logger := s.logger.With("upload", header.Filename, "size", len(data))

	res, err := s.runner.Run(r.Context(), data)
	if err != nil {
		switch {
		case errors.Is(err, bits.ErrInvalidContainer):
			logger.Warn("rejected upload", "err", err)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, bits.ErrEmptyOutput):
			logger.Error("conversion produced no output", "err", err)
			writeError(w, http.StatusInternalServerError, "ZIP file was not created")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			logger.Warn("conversion aborted", "err", err)
			writeError(w, http.StatusServiceUnavailable, "Conversion aborted")
		default:
			logger.Error("conversion failed", "err", err)
			writeError(w, http.StatusInternalServerError, "Conversion failed")
		}
		return
	}

	for _, d := range res.Diagnostics {
		logger.Warn("conversion warning", "kind", d.Kind, "subject", d.Subject, "message", d.Message)
	}

	if s.recorder != nil {
		if _, err := s.recorder.Record(r.Context(), history.Run{
			Digest:    history.Digest(data),
			Source:    header.Filename,
			Title:     res.Metadata.Title,
			Author:    res.Metadata.Author,
			TotalBits: res.Metadata.TotalBits,
			Images:    len(res.Images),
			Warnings:  len(res.Diagnostics),
		}); err != nil {
			logger.Warn("failed to record run", "err", err)
		}
	}

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", `attachment; filename="`+DownloadName+`"`)
	h.Set("Content-Length", strconv.Itoa(len(res.Archive)))
	h.Set("X-Bits-Title", headerSafe(res.Metadata.Title))
	h.Set("X-Bits-Author", headerSafe(res.Metadata.Author))
	h.Set("X-Bits-Total", strconv.Itoa(res.Metadata.TotalBits))
	h.Set("X-Bits-Warnings", strconv.Itoa(len(res.Diagnostics)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Archive); err != nil {
		logger.Warn("failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// headerSafe returns s as an RFC 2047 encoded word when it is not plain
// printable ASCII.
func headerSafe(s string) string {
	return mime.QEncoding.Encode("utf-8", s)
}
