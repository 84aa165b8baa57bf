package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/lexclass/internal/app"
	"github.com/dgallion1/lexclass/internal/classifier"
)

func newClassifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [file...]",
		Short: "Classify documents; without arguments, read paths from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.LoadIndex(ctx); err != nil {
				if errors.Is(err, app.ErrNoIndex) {
					return fmt.Errorf("%w: run build-index first", err)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				var failed int
				for _, path := range args {
					if !classifyPath(ctx, a.Classifier, out, path) {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d documents failed", failed, len(args))
				}
				return nil
			}
			return classifyLoop(ctx, a.Classifier, cmd.InOrStdin(), out)
		},
	}
}

// classifyLoop prompts for paths until EOF or an exit word.
func classifyLoop(ctx context.Context, c *classifier.Classifier, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Type a document path, or 'q' to quit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "File path: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		path := cleanPath(scanner.Text())
		switch strings.ToLower(path) {
		case "":
			continue
		case "q", "quit", "exit":
			fmt.Fprintln(out, "Bye!")
			return nil
		}
		if _, err := os.Stat(path); err != nil {
			fmt.Fprintf(out, "File does not exist: %s\n", path)
			continue
		}
		classifyPath(ctx, c, out, path)
	}
}

// cleanPath trims whitespace and the quotes terminals add around dropped
// files.
func cleanPath(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	return strings.Trim(s, `'`)
}

func classifyPath(ctx context.Context, c *classifier.Classifier, out io.Writer, path string) bool {
	fmt.Fprintf(out, "\nAnalyzing %s\n", path)
	res, err := c.ClassifyFile(ctx, path)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return false
	}
	printResult(out, res)
	return true
}

func printResult(w io.Writer, res classifier.Result) {
	winner, ok := res.Winner()
	if !ok {
		fmt.Fprintln(w, "Category not found")
		return
	}
	rule := strings.Repeat("-", 30)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Winner: %s\n", strings.ToUpper(winner.Category))
	fmt.Fprintf(w, "   Score: %.2f\n", winner.Score)
	if len(res) > 1 {
		fmt.Fprintln(w, "Other classes:")
		for _, cs := range res[1:] {
			fmt.Fprintf(w, "   - %s: %.2f\n", cs.Category, cs.Score)
		}
	}
	fmt.Fprintln(w, rule)
}
