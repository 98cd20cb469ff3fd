package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/yuanying/epub2bits/internal/config"
)

// globalOptions are the settings shared by every subcommand.
type globalOptions struct {
	Config *config.Config
	Logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epub2bits",
		Short: "Split EPUB books into word-bounded HTML bits",
		Long: `epub2bits reads an EPUB e-book, extracts its structural HTML and
images, and regroups the content into "bits" of roughly equal word count.

The result is a zip archive holding all_bits.html (bits separated by a
marker comment) and every referenced image, named by its file name.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file path (default: "+config.DefaultPath()+")")
	flags.String("log-level", "info", "Log level: debug|info|warn|error")
	flags.String("log-format", "text", "Log format: text|json")
	flags.BoolP("verbose", "v", false, "Enable verbose logging (same as --log-level debug)")
	flags.String("history-dir", "", "Directory of the run history database (default: "+config.DataDir()+")")
	flags.Bool("no-history", false, "Do not record runs in the history database")

	cmd.AddCommand(newConvertCmd(), newServeCmd(), newHistoryCmd())
	return cmd
}

// readGlobalOptions loads the config file and applies the persistent flags
// on top of it. Flags win over the file only when given explicitly.
func readGlobalOptions(cmd *cobra.Command) (*globalOptions, error) {
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logLevel := cfg.LogLevel
	if flags.Changed("log-level") || logLevel == "" {
		logLevel, _ = flags.GetString("log-level")
	}
	if _, err := parseLogLevel(logLevel); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	verbose, _ := flags.GetBool("verbose")
	if verbose {
		logLevel = "debug"
	}
	cfg.LogLevel = logLevel

	logFormat, _ := flags.GetString("log-format")
	if err := validateLogFormat(logFormat); err != nil {
		return nil, fmt.Errorf("--log-format: %w", err)
	}

	if flags.Changed("history-dir") {
		cfg.HistoryDir, _ = flags.GetString("history-dir")
	}
	if noHistory, _ := flags.GetBool("no-history"); noHistory {
		cfg.HistoryDir = ""
	}

	return &globalOptions{
		Config: cfg,
		Logger: buildLogger(os.Stderr, logLevel, logFormat),
	}, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown level %q (want debug, info, warn or error)", level)
	}
}

func validateLogFormat(format string) error {
	switch strings.ToLower(format) {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}
}

// buildLogger returns a slog logger writing to w. Invalid levels fall back
// to info; anything other than json means text.
func buildLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, err := parseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
