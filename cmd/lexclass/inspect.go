package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/lexclass/internal/app"
	"github.com/dgallion1/lexclass/internal/index"
)

func newInspectCmd(opts *globalOptions) *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print statistics of the persisted index and one random entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			idx, err := a.OpenIndex(ctx)
			if err != nil {
				if errors.Is(err, app.ErrNoIndex) {
					return fmt.Errorf("%w: run build-index first", err)
				}
				return err
			}
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			printReport(cmd.OutOrStdout(), index.Describe(idx, rand.New(rand.NewPCG(seed, 0))))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed for the random sample (0 = time based)")
	return cmd
}

func printReport(w io.Writer, r index.Report) {
	fmt.Fprintln(w, "Index statistics:")
	fmt.Fprintf(w, "  Vectors:   %d\n", r.Vectors)
	fmt.Fprintf(w, "  Dimension: %d\n", r.Dimension)
	fmt.Fprintf(w, "  Metadata:  %d\n", r.Metadata)
	if r.BuildID != "" {
		fmt.Fprintf(w, "  Build:     %s\n", r.BuildID)
	}
	if len(r.Categories) > 0 {
		fmt.Fprintln(w, "Categories:")
		for _, c := range r.Categories {
			fmt.Fprintf(w, "  - %s: %d vectors, %d files\n", c.Category, c.Vectors, c.Files)
		}
	}
	if r.Sample != nil {
		fmt.Fprintln(w, "Random entry:")
		fmt.Fprintf(w, "  ID:       %d\n", r.Sample.Position)
		fmt.Fprintf(w, "  Category: [%s]\n", strings.ToUpper(r.Sample.Meta.Category))
		fmt.Fprintf(w, "  File:     %s\n", r.Sample.Meta.Filename)
		fmt.Fprintf(w, "  Vector:   %v ...\n", r.Sample.Head)
	}
}
