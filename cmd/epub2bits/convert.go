package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yuanying/epub2bits/internal/bits"
	"github.com/yuanying/epub2bits/internal/history"
	"github.com/yuanying/epub2bits/internal/report"
)

type convertOptions struct {
	InputPath    string
	OutputPath   string
	MetadataPath string
	ReportPath   string
	HistoryDir   string
	Pipeline     bits.Options
	Logger       *slog.Logger
}

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <book.epub>",
		Short: "Convert an EPUB file into a bits archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readConvertOptions(cmd, args)
			if err != nil {
				return err
			}
			return runConvert(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringP("output", "o", "", "Output archive path (default: input with .zip extension)")
	flags.Int("words-per-bit", 0, "Word threshold that closes a bit (default from config, 1250)")
	flags.Int("max-image-width", 0, "Downscale images wider than this many pixels (0 keeps images as-is)")
	flags.Int("workers", 0, "Documents segmented in parallel (default from config, 4)")
	flags.String("metadata", "", "Also write the metadata record as JSON to this path")
	flags.String("report", "", "Also write a Markdown run report to this path")
	return cmd
}

func readConvertOptions(cmd *cobra.Command, args []string) (*convertOptions, error) {
	global, err := readGlobalOptions(cmd)
	if err != nil {
		return nil, err
	}
	cfg := global.Config
	flags := cmd.Flags()

	if flags.Changed("words-per-bit") {
		cfg.WordsPerBit, _ = flags.GetInt("words-per-bit")
		if cfg.WordsPerBit <= 0 {
			return nil, fmt.Errorf("--words-per-bit must be positive, got %d", cfg.WordsPerBit)
		}
	}
	if flags.Changed("max-image-width") {
		cfg.MaxImageWidth, _ = flags.GetInt("max-image-width")
		if cfg.MaxImageWidth < 0 {
			return nil, fmt.Errorf("--max-image-width must not be negative, got %d", cfg.MaxImageWidth)
		}
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
		if cfg.Workers <= 0 {
			return nil, fmt.Errorf("--workers must be positive, got %d", cfg.Workers)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := &convertOptions{
		InputPath:  args[0],
		HistoryDir: cfg.HistoryDir,
		Logger:     global.Logger,
		Pipeline: bits.Options{
			WordsPerBit:      cfg.WordsPerBit,
			MaxImageWidth:    cfg.MaxImageWidth,
			JPEGQuality:      cfg.JPEGQuality,
			CoverJPEGQuality: cfg.CoverJPEGQuality,
			Workers:          cfg.Workers,
			ScratchDir:       cfg.ScratchDir,
			Logger:           global.Logger,
		},
	}
	opts.OutputPath, _ = flags.GetString("output")
	if opts.OutputPath == "" {
		opts.OutputPath = defaultOutputPath(opts.InputPath)
	}
	opts.MetadataPath, _ = flags.GetString("metadata")
	opts.ReportPath, _ = flags.GetString("report")
	return opts, nil
}

func defaultOutputPath(inputPath string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".zip"
}

func runConvert(ctx context.Context, opts *convertOptions) error {
	logger := opts.Logger
	logger.Info("converting", "input", opts.InputPath, "output", opts.OutputPath)

	data, err := os.ReadFile(opts.InputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	res, err := bits.NewPipeline(opts.Pipeline).Run(ctx, data)
	if err != nil {
		switch {
		case errors.Is(err, bits.ErrInvalidContainer):
			return fmt.Errorf("%s is not a readable EPUB: %w", opts.InputPath, err)
		case errors.Is(err, bits.ErrEmptyOutput):
			return fmt.Errorf("%s produced no output: %w", opts.InputPath, err)
		default:
			return fmt.Errorf("conversion failed: %w", err)
		}
	}

	for _, d := range res.Diagnostics {
		logger.Warn("conversion warning", "kind", d.Kind, "subject", d.Subject, "message", d.Message)
	}

	if err := writeFile(opts.OutputPath, res.Archive); err != nil {
		return err
	}

	if opts.MetadataPath != "" {
		out, err := json.MarshalIndent(res.Metadata, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		if err := writeFile(opts.MetadataPath, append(out, '\n')); err != nil {
			return err
		}
	}

	if opts.ReportPath != "" {
		if err := writeReport(opts.ReportPath, opts.InputPath, res); err != nil {
			return err
		}
	}

	if opts.HistoryDir != "" {
		recordRun(ctx, opts.HistoryDir, history.Run{
			Digest:    history.Digest(data),
			Source:    filepath.Base(opts.InputPath),
			Title:     res.Metadata.Title,
			Author:    res.Metadata.Author,
			TotalBits: res.Metadata.TotalBits,
			Images:    len(res.Images),
			Warnings:  len(res.Diagnostics),
		}, logger)
	}

	logger.Info("done", "output", opts.OutputPath, "bits", res.Metadata.TotalBits, "images", len(res.Images))
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // output files are meant to be readable
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeReport(path, source string, res *bits.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := report.WriteRun(f, source, res); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

// recordRun stores a finished run. History is best effort: failures are
// logged and never fail the conversion.
func recordRun(ctx context.Context, dir string, run history.Run, logger *slog.Logger) {
	store, err := history.Open(dir)
	if err != nil {
		logger.Warn("history unavailable", "dir", dir, "err", err)
		return
	}
	defer store.Close()

	if prior, err := store.FindByDigest(ctx, run.Digest); err != nil {
		logger.Warn("failed to look up earlier runs", "err", err)
	} else if len(prior) > 0 {
		logger.Info("book converted before", "runs", len(prior), "last", prior[0].CreatedAt)
	}

	if _, err := store.Record(ctx, run); err != nil {
		logger.Warn("failed to record run", "err", err)
	}
}
