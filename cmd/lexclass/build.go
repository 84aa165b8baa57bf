package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/lexclass/internal/builder"
)

func newBuildIndexCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build-index",
		Short: "Rebuild the reference index from the corpus directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Building index from %s\n", a.Config.Data.DataDir)
			b := a.Builder.WithProgress(func(done, total int) {
				fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d documents", done, total)
				if done == total {
					fmt.Fprintln(cmd.ErrOrStderr())
				}
			})
			summary, _, err := b.Run(ctx, a.Config.Data.DataDir, a.Publisher)
			if err != nil {
				return err
			}
			printSummary(out, summary)
			return nil
		},
	}
}

func printSummary(w io.Writer, s builder.Summary) {
	fmt.Fprintf(w, "Build %s finished in %s\n", s.BuildID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Documents: %d (indexed %d, skipped %d)\n", s.Documents, s.Indexed, s.Skipped)
	fmt.Fprintf(w, "  Vectors:   %d x %d\n", s.Vectors, s.Dimension)
	for _, c := range s.Categories {
		fmt.Fprintf(w, "  - %s: %d vectors from %d files\n", c.Category, c.Vectors, c.Files)
	}
}
