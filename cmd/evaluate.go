package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/dircrawl/internal/evaluate"
)

func newEvaluateCmd() *cobra.Command {
	var (
		opts     evaluate.Options
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate <records.jsonl>",
		Short: "Report duplicates, completeness and validity of crawl output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open records: %w", err)
			}
			defer f.Close()

			records, err := evaluate.ReadJSONL(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			rep := evaluate.Evaluate(records, opts)
			e.logger.Info("evaluation complete",
				zap.String("file", args[0]),
				zap.Int("records", rep.Total),
				zap.Int("warnings", len(rep.Warnings)),
			)

			out := rep.Text()
			if markdown {
				out = rep.Markdown()
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&opts.DupeKeys, "dupe-keys", evaluate.DefaultDupeKeys, "fields identifying a duplicate record")
	cmd.Flags().IntVar(&opts.ExpectedMin, "expected-min", 0, "warn when fewer records are present")
	cmd.Flags().IntVar(&opts.ExpectedMax, "expected-max", 0, "warn when more records are present")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the report as Markdown")
	return cmd
}
