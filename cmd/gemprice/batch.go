package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gemprice/internal/batch"
	"gemprice/internal/models"
)

func batchCmd() *cobra.Command {
	var (
		workers int
		userID  string
	)

	cmd := &cobra.Command{
		Use:   "batch <file.csv>",
		Short: "Price every row of a CSV file and print the results as JSON",
		Long: `batch prices a CSV file offline using the same engine as the API.

Results are only persisted when --user is given, in which case they are saved
to that user's history.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"output": "stdout"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if workers <= 0 {
				workers = cfg.CSVWorkers
			}
			var saver batch.Saver
			if userID != "" {
				saver = a.store
			}

			resp, err := batch.NewProcessor(a.engine, saver, workers).Process(ctx, models.User{Sub: userID}, f)
			if err != nil {
				return fmt.Errorf("failed to process %s: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "rows priced concurrently (default CSV_WORKERS)")
	cmd.Flags().StringVar(&userID, "user", "", "save results to this user's history")
	return cmd
}
