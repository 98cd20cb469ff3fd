package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/yuanying/epub2bits/internal/history"
	"github.com/yuanying/epub2bits/internal/report"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent conversions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			global, err := readGlobalOptions(cmd)
			if err != nil {
				return err
			}
			if global.Config.HistoryDir == "" {
				return errors.New("history is disabled")
			}
			limit, _ := cmd.Flags().GetInt("limit")
			digest, _ := cmd.Flags().GetString("digest")

			store, err := history.Open(global.Config.HistoryDir)
			if err != nil {
				return err
			}
			defer store.Close()

			var runs []history.Run
			if digest != "" {
				runs, err = store.FindByDigest(cmd.Context(), digest)
			} else {
				runs, err = store.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			return report.WriteHistory(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().Int("limit", 20, "Number of runs to show")
	cmd.Flags().String("digest", "", "Only show runs of the book with this BLAKE2b digest")
	return cmd
}
