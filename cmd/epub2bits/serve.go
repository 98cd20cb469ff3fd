package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/yuanying/epub2bits/internal/bits"
	"github.com/yuanying/epub2bits/internal/history"
	"github.com/yuanying/epub2bits/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload endpoint over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			global, err := readGlobalOptions(cmd)
			if err != nil {
				return err
			}
			cfg := global.Config
			if cmd.Flags().Changed("addr") {
				cfg.Addr, _ = cmd.Flags().GetString("addr")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			opts := server.Options{
				Runner: bits.NewPipeline(bits.Options{
					WordsPerBit:      cfg.WordsPerBit,
					MaxImageWidth:    cfg.MaxImageWidth,
					JPEGQuality:      cfg.JPEGQuality,
					CoverJPEGQuality: cfg.CoverJPEGQuality,
					Workers:          cfg.Workers,
					ScratchDir:       cfg.ScratchDir,
					Logger:           global.Logger,
				}),
				MaxBytes: cfg.MaxUploadMB << 20,
				Logger:   global.Logger,
			}

			if cfg.HistoryDir != "" {
				store, err := history.Open(cfg.HistoryDir)
				if err != nil {
					global.Logger.Warn("history unavailable", "dir", cfg.HistoryDir, "err", err)
				} else {
					defer store.Close()
					opts.Recorder = store
				}
			}

			err = server.New(opts).ListenAndServe(cmd.Context(), cfg.Addr)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from config, :5000)")
	return cmd
}
