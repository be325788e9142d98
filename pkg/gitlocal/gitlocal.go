// Package gitlocal reads blame and diffs from a local git checkout.
package gitlocal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

const defaultRevision = "HEAD"

// headerRe matches a porcelain group header: sha, original line, final line, optional group size.
var headerRe = regexp.MustCompile(`^([0-9a-f]{40}) (\d+) (\d+)(?: (\d+))?$`)

// Repo runs git in one working directory.
type Repo struct {
	logger *slog.Logger
	dir    string
	git    string
}

// New returns a Repo rooted at dir. A nil logger uses slog.Default().
func New(logger *slog.Logger, dir string) *Repo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repo{logger: logger, dir: dir, git: "git"}
}

// Scope names the repository by its absolute working directory.
func (r *Repo) Scope() string {
	if abs, err := filepath.Abs(r.dir); err == nil {
		return "git:" + abs
	}
	return "git:" + r.dir
}

// Check verifies that dir is inside a git repository.
func (r *Repo) Check(ctx context.Context) error {
	if _, err := r.run(ctx, "rev-parse", "--git-dir"); err != nil {
		return fmt.Errorf("not a git repository: %w", err)
	}
	return nil
}

// Blame implements blame.Provider with `git blame --porcelain`.
// An empty commit blames HEAD. Unknown revisions and paths yield blame.ErrNotAvailable.
func (r *Repo) Blame(ctx context.Context, path, commit string) (*blame.File, error) {
	rev := commit
	if rev == "" {
		rev = defaultRevision
	}

	start := time.Now()
	out, err := r.run(ctx, "blame", "--porcelain", rev, "--", path)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s@%s: %w: %w", path, rev, blame.ErrNotAvailable, err)
		}
		return nil, err
	}

	f, err := parsePorcelain(bytes.NewReader(out), path, commit)
	if err != nil {
		return nil, fmt.Errorf("parse blame of %s@%s: %w", path, rev, err)
	}
	r.logger.Debug("git blame", "component", "gitlocal", "file", path, "commit", rev,
		"lines", f.LineCount, "duration", time.Since(start))
	return f, nil
}

// Diff returns `git diff --find-renames base head`.
func (r *Repo) Diff(ctx context.Context, base, head string) (string, error) {
	if base == "" || head == "" {
		return "", errors.New("base and head revisions are required")
	}
	out, err := r.run(ctx, "diff", "--find-renames", base, head)
	if err != nil {
		return "", fmt.Errorf("failed to get git diff: %w", err)
	}
	return string(out), nil
}

// MergeBase returns the best common ancestor of a and b.
func (r *Repo) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := r.run(ctx, "merge-base", a, b)
	if err != nil {
		return "", fmt.Errorf("failed to get merge base of %s and %s: %w", a, b, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ResolveRange turns "base..head" or "base...head" into the before commit
// (the merge base for three dots) and head.
func (r *Repo) ResolveRange(ctx context.Context, spec string) (before, head string, err error) {
	if base, tip, ok := strings.Cut(spec, "..."); ok {
		before, err = r.MergeBase(ctx, base, tip)
		return before, tip, err
	}
	if base, tip, ok := strings.Cut(spec, ".."); ok && base != "" && tip != "" {
		return base, tip, nil
	}
	return "", "", fmt.Errorf("invalid revision range %q (want base..head or base...head)", spec)
}

func (r *Repo) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.git, args...)
	cmd.Dir = r.dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}

// parsePorcelain reads `git blame --porcelain` output. Commit metadata is
// printed only with a commit's first group and is remembered for later ones.
func parsePorcelain(rd io.Reader, path, commit string) (*blame.File, error) {
	f := &blame.File{
		Path:    path,
		Commit:  commit,
		Authors: make(map[int]types.Author),
		Lines:   make(map[int]string),
	}

	commits := make(map[string]*types.Author)
	var cur *types.Author
	line := 0

	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		text := sc.Text()

		if content, ok := strings.CutPrefix(text, "\t"); ok {
			if cur == nil || line == 0 {
				return nil, errors.New("content line without a header")
			}
			f.Lines[line] = content
			f.Authors[line] = *cur
			if line > f.LineCount {
				f.LineCount = line
			}
			continue
		}

		if m := headerRe.FindStringSubmatch(text); m != nil {
			sha := m[1]
			n, err := strconv.Atoi(m[3])
			if err != nil {
				return nil, fmt.Errorf("bad line number in %q: %w", text, err)
			}
			line = n
			a, ok := commits[sha]
			if !ok {
				a = &types.Author{ShortHash: sha[:7]}
				commits[sha] = a
			}
			cur = a
			continue
		}

		if cur == nil {
			continue
		}
		key, value, _ := strings.Cut(text, " ")
		switch key {
		case "author":
			cur.UserName = value
		case "author-time":
			if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.Timestamp = time.Unix(secs, 0).UTC()
			}
		case "summary":
			cur.CommitMessage = value
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

var _ blame.Scoped = (*Repo)(nil)
