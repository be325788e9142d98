package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/github"
	"github.com/codeGROOVE-dev/marvin/pkg/gitlocal"
	"github.com/codeGROOVE-dev/marvin/pkg/metrics"
	"github.com/codeGROOVE-dev/marvin/pkg/patch"
	"github.com/codeGROOVE-dev/marvin/pkg/report"
	"github.com/codeGROOVE-dev/marvin/pkg/reviewer"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

type recommendFlags struct {
	commits   commitFlags
	repoDir   string
	rangeSpec string
	fixtures  string
	author    string
	assign    bool
}

func newRecommendCmd(a *app) *cobra.Command {
	var flags recommendFlags
	cmd := &cobra.Command{
		Use:   "recommend [diff-file | pull-request]",
		Short: "Suggest the best reviewer for a diff, a local range or a pull request",
		Long: "Suggest a reviewer from the authors of the lines a change touches.\n\n" +
			"The change is one of:\n" +
			"  a GitHub pull request (https://github.com/o/r/pull/1, o/r#1)\n" +
			"  a revision range of a local checkout (--range base..head)\n" +
			"  a diff file or standard input, blamed in --repo or from --blame-fixtures",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			ctx := cmd.Context()

			if len(args) == 1 && isPullRequestRef(args[0]) {
				return a.recommendPullRequest(ctx, cmd, args[0], flags.assign)
			}
			if flags.assign {
				return errors.New("--assign requires a pull request argument")
			}

			var (
				rec *reviewer.Recommendation
				err error
			)
			if flags.rangeSpec != "" {
				rec, err = a.recommendRange(ctx, &flags)
			} else {
				rec, err = a.recommendDiff(ctx, cmd, args, &flags)
			}
			if err != nil {
				a.metrics.RecordAnalysis(metrics.OutcomeError)
				return err
			}
			return a.render(cmd, rec)
		},
	}

	flags.commits.register(cmd)
	f := cmd.Flags()
	f.StringVar(&flags.repoDir, "repo", ".", "local git checkout to blame")
	f.StringVar(&flags.rangeSpec, "range", "", "revision range of --repo to review (base..head or base...head)")
	f.StringVar(&flags.fixtures, "blame-fixtures", "", "JSON file of blame records to use instead of git")
	f.StringVar(&flags.author, "author", "", "author of the change, never suggested")
	f.BoolVar(&flags.assign, "assign", false, "request a review from the suggested user on the pull request")
	return cmd
}

// isPullRequestRef reports whether arg names a pull request rather than a file.
func isPullRequestRef(arg string) bool {
	if _, _, _, err := github.ParsePullRequestURL(arg); err != nil {
		return false
	}
	_, err := os.Stat(arg)
	return err != nil
}

func (a *app) recommendDiff(ctx context.Context, cmd *cobra.Command, args []string, flags *recommendFlags) (*reviewer.Recommendation, error) {
	result, err := parseInput(a, args, flags.commits.options(), cmd.InOrStdin())
	if err != nil {
		return nil, err
	}

	var provider blame.Provider
	if flags.fixtures != "" {
		provider, err = blame.LoadStatic(flags.fixtures)
		if err != nil {
			return nil, err
		}
	} else {
		repo := gitlocal.New(a.logger, flags.repoDir)
		if err := repo.Check(ctx); err != nil {
			return nil, err
		}
		if provider, err = a.blameProvider(repo); err != nil {
			return nil, err
		}
	}
	return a.find(ctx, provider, result, flags.author)
}

func (a *app) recommendRange(ctx context.Context, flags *recommendFlags) (*reviewer.Recommendation, error) {
	repo := gitlocal.New(a.logger, flags.repoDir)
	if err := repo.Check(ctx); err != nil {
		return nil, err
	}
	before, head, err := repo.ResolveRange(ctx, flags.rangeSpec)
	if err != nil {
		return nil, err
	}
	diff, err := repo.Diff(ctx, before, head)
	if err != nil {
		return nil, err
	}

	opts := patch.Options{BeforeCommit: before, AfterCommit: head}
	result, err := patch.New(a.logger, opts).ParseReader(strings.NewReader(diff))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", flags.rangeSpec, err)
	}

	provider, err := a.blameProvider(repo)
	if err != nil {
		return nil, err
	}
	return a.find(ctx, provider, result, flags.author)
}

func (a *app) recommendPullRequest(ctx context.Context, cmd *cobra.Command, ref string, assign bool) error {
	owner, repo, number, err := github.ParsePullRequestURL(ref)
	if err != nil {
		return err
	}
	client, err := github.New(ctx, a.githubConfig())
	if err != nil {
		return fmt.Errorf("creating GitHub client: %w", err)
	}

	pr, rec, err := a.reviewPullRequest(ctx, client, owner, repo, number)
	if err != nil {
		return err
	}
	if err := a.render(cmd, rec); err != nil {
		return err
	}

	top, ok := rec.Top()
	if !assign || !ok {
		return nil
	}
	if err := client.AddReviewers(ctx, owner, repo, pr.Number, []string{top.UserName}); err != nil {
		return err
	}
	a.metrics.RecordPRAssigned(owner, repo, pr.Number)
	return nil
}

// reviewPullRequest fetches a pull request and ranks reviewers for it.
func (a *app) reviewPullRequest(ctx context.Context, client github.API, owner, repo string, number int) (*types.PullRequest, *reviewer.Recommendation, error) {
	pr, err := client.PullRequest(ctx, owner, repo, number)
	if err != nil {
		a.metrics.RecordAnalysis(metrics.OutcomeError)
		return nil, nil, err
	}
	rec, err := a.reviewFetched(ctx, client, pr)
	if err != nil {
		return nil, nil, err
	}
	return pr, rec, nil
}

// reviewFetched ranks reviewers for the combined diff of pr from its merge base.
// The pull request author is never suggested.
func (a *app) reviewFetched(ctx context.Context, client github.API, pr *types.PullRequest) (*reviewer.Recommendation, error) {
	owner, repo, number := pr.Owner, pr.Repository, pr.Number
	a.metrics.RecordPRSeen(owner, repo, number)

	diff, err := client.PullRequestDiff(ctx, owner, repo, number, github.FormatDiff)
	if err != nil {
		a.metrics.RecordAnalysis(metrics.OutcomeError)
		return nil, err
	}

	opts := patch.Options{BeforeCommit: pr.MergeBase, AfterCommit: pr.HeadSHA}
	result, err := patch.New(a.logger, opts).ParseReader(strings.NewReader(diff))
	if err != nil {
		a.metrics.RecordAnalysis(metrics.OutcomeError)
		return nil, fmt.Errorf("parsing %s/%s#%d: %w", owner, repo, number, err)
	}

	provider, err := a.blameProvider(github.NewBlameSource(client, owner, repo))
	if err != nil {
		return nil, err
	}
	rec, err := a.find(ctx, provider, result, pr.Author)
	if err != nil {
		a.metrics.RecordAnalysis(metrics.OutcomeError)
		return nil, err
	}
	return rec, nil
}

// find runs the finder and counts the outcome. Failures are counted by the caller.
func (a *app) find(ctx context.Context, provider blame.Provider, result *types.ParseResult, author string) (*reviewer.Recommendation, error) {
	var exclude []string
	if author != "" {
		exclude = append(exclude, author)
	}
	rec, err := a.newFinder(provider).Find(ctx, result, exclude...)
	if err != nil {
		return nil, err
	}
	if _, ok := rec.Top(); ok {
		a.metrics.RecordAnalysis(metrics.OutcomeRecommended)
	} else {
		a.metrics.RecordAnalysis(metrics.OutcomeNoCandidate)
	}
	return rec, nil
}

func (a *app) render(cmd *cobra.Command, rec *reviewer.Recommendation) error {
	w, err := report.New(cmd.OutOrStdout(), a.cfg.Output.Format)
	if err != nil {
		return err
	}
	return w.Recommendation(rec, a.cfg.Output.ShowChanges)
}

func (a *app) githubConfig() github.Config {
	return github.Config{
		Logger:      a.logger,
		AppID:       a.cfg.GitHub.AppID,
		AppKeyPath:  a.cfg.GitHub.AppKeyPath,
		Token:       a.cfg.GitHub.Token,
		HTTPTimeout: a.cfg.GitHub.HTTPTimeout,
		UseAppAuth:  a.cfg.GitHub.UseAppAuth,
	}
}
