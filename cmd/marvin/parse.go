package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/marvin/pkg/patch"
	"github.com/codeGROOVE-dev/marvin/pkg/report"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// commitFlags label diffs that carry no patch series header.
type commitFlags struct {
	before string
	after  string
}

func (f *commitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.before, "before", "", "revision the diff applies to")
	cmd.Flags().StringVar(&f.after, "after", "", "revision the diff produces")
}

func (f *commitFlags) options() patch.Options {
	return patch.Options{BeforeCommit: f.before, AfterCommit: f.after}
}

func newParseCmd(a *app) *cobra.Command {
	var commits commitFlags
	cmd := &cobra.Command{
		Use:   "parse [diff-file]",
		Short: "Parse a unified diff or patch series into line changes",
		Long: "Parse a unified diff or git format-patch series and list every added,\n" +
			"deleted and modified line. Reads standard input when no file or \"-\" is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := parseInput(a, args, commits.options(), cmd.InOrStdin())
			if err != nil {
				return err
			}
			w, err := report.New(cmd.OutOrStdout(), a.cfg.Output.Format)
			if err != nil {
				return err
			}
			return w.ParseResult(result)
		},
	}
	commits.register(cmd)
	return cmd
}

// parseInput parses the diff named by args, or stdin.
func parseInput(a *app, args []string, opts patch.Options, stdin io.Reader) (*types.ParseResult, error) {
	rd := stdin
	name := "stdin"
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("opening diff: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				a.logger.Warn("Failed to close diff", "file", args[0], "error", err)
			}
		}()
		rd = f
		name = args[0]
	}

	result, err := patch.New(a.logger, opts).ParseReader(rd)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	a.logger.Info("Parsed diff", "source", name, "files", len(result.Files), "changes", result.Len())
	return result, nil
}
