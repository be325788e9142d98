package reviewer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/internal/testutil"
	"github.com/codeGROOVE-dev/marvin/pkg/patch"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

var userDiff = []string{
	"diff --git a/app/models/user.rb b/app/models/user.rb",
	"index 1111111..2222222 100644",
	"--- a/app/models/user.rb",
	"+++ b/app/models/user.rb",
	"@@ -3,3 +3,3 @@ class User",
	"   validates :email, presence: true",
	"-  validates :name, presence: true",
	"+  validates :name, length: { maximum: 50 }",
	" end",
}

func userBlame() *blame.File {
	return testutil.NewBlameFile("app/models/user.rb", "2222222",
		testutil.BlameLine{Text: "class User", Author: "alice"},
		testutil.BlameLine{Text: "  include Validations", Author: "dave"},
		testutil.BlameLine{Text: "  validates :email, presence: true", Author: "bob"},
		testutil.BlameLine{Text: "  validates :name, length: { maximum: 50 }", Author: "carol"},
		testutil.BlameLine{Text: "end", Author: "alice"},
	)
}

func parseUserDiff(t *testing.T) *types.ParseResult {
	t.Helper()
	result, err := patch.New(quietLogger(), patch.Options{}).Parse(userDiff)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return result
}

func TestNew(t *testing.T) {
	finder := New(nil, testutil.NewMockBlameProvider(), Config{Exclude: []string{"Alice"}, SkipBots: true})

	if finder == nil {
		t.Fatal("expected non-nil Finder")
	}
	if finder.Resolver() == nil {
		t.Error("expected non-nil resolver")
	}
	if !finder.exclude["alice"] {
		t.Error("expected exclusions to be case-insensitive")
	}
	if !finder.skipBots {
		t.Error("expected skipBots to be set")
	}
}

func TestFinder_Find_NilResult(t *testing.T) {
	finder := New(quietLogger(), testutil.NewMockBlameProvider(), Config{})

	if _, err := finder.Find(context.Background(), nil); err == nil {
		t.Error("expected error for nil result")
	}
}

func TestFinder_Find(t *testing.T) {
	provider := testutil.NewMockBlameProvider()
	provider.SetFile(userBlame())
	finder := New(quietLogger(), provider, Config{})

	rec, err := finder.Find(context.Background(), parseUserDiff(t), "carol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.Ranking) != 2 {
		t.Fatalf("expected 2 ranked authors, got %v", rec.Ranking)
	}
	if rec.Ranking[0] != (Score{UserName: "bob", Score: 1}) {
		t.Errorf("expected bob with 1 first, got %+v", rec.Ranking[0])
	}
	if rec.Ranking[1] != (Score{UserName: "carol", Score: 3}) {
		t.Errorf("expected carol with 3 last, got %+v", rec.Ranking[1])
	}

	top, ok := rec.Top()
	if !ok {
		t.Fatal("expected a top candidate")
	}
	if top.UserName != "bob" {
		t.Errorf("expected bob once the change author is excluded, got %s", top.UserName)
	}
	if len(rec.Excluded) != 1 || rec.Excluded[0] != "carol" {
		t.Errorf("expected carol excluded, got %v", rec.Excluded)
	}

	fcs := rec.Result.Files["app/models/user.rb"]
	if got := types.SortedLines(fcs.Interesting); len(got) != 1 || got[0] != 3 {
		t.Errorf("expected interesting line 3, got %v", got)
	}
	if rec.Blame.Len() != 1 {
		t.Errorf("expected one blame lookup cached, got %d", rec.Blame.Len())
	}
	if calls := provider.Calls(); len(calls) != 1 {
		t.Errorf("expected one provider call, got %v", calls)
	}
}

func TestFinder_Find_BlameUnavailable(t *testing.T) {
	finder := New(quietLogger(), testutil.NewMockBlameProvider(), Config{})

	_, err := finder.Find(context.Background(), parseUserDiff(t))
	if !errors.Is(err, ErrBlameUnavailable) {
		t.Fatalf("expected ErrBlameUnavailable, got %v", err)
	}
	if !errors.Is(err, blame.ErrNotAvailable) {
		t.Errorf("expected provider cause to be preserved, got %v", err)
	}
}

func TestFinder_Find_SkipsBots(t *testing.T) {
	provider := testutil.NewMockBlameProvider()
	provider.SetFile(testutil.NewBlameFile("go.mod", "c1",
		testutil.BlameLine{Text: "module example.com/app", Author: "alice"},
		testutil.BlameLine{Text: "require golang.org/x/net v0.1.0", Author: "dependabot[bot]"},
	))
	result := resultWith(change("go.mod", 2, types.Modified, "c1"))

	finder := New(quietLogger(), provider, Config{SkipBots: true})
	rec, err := finder.Find(context.Background(), result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	top, ok := rec.Top()
	if !ok || top.UserName != "alice" {
		t.Errorf("expected alice after filtering the bot, got %+v (ok=%v)", top, ok)
	}
	if len(rec.Ranking) != 2 {
		t.Errorf("expected the bot to stay in the full ranking, got %v", rec.Ranking)
	}
}

func TestFinder_Find_NoCandidates(t *testing.T) {
	provider := testutil.NewMockBlameProvider()
	provider.SetFile(userBlame())
	finder := New(quietLogger(), provider, Config{Exclude: []string{"bob", "carol"}})

	rec, err := finder.Find(context.Background(), parseUserDiff(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := rec.Top(); ok {
		t.Errorf("expected no candidates, got %v", rec.Candidates)
	}
}

func TestFinder_Find_PersistentBlame(t *testing.T) {
	provider := testutil.NewMockBlameProvider()
	provider.SetFile(userBlame())
	store := testutil.NewMockCache()
	finder := New(quietLogger(), blame.NewPersistent(quietLogger(), "test/repo", provider, store), Config{})

	for range 2 {
		if _, err := finder.Find(context.Background(), parseUserDiff(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if calls := provider.Calls(); len(calls) != 1 {
		t.Errorf("expected the second run to be served from the store, got %d provider calls", len(calls))
	}
	if loads, stores := store.Counts(); loads != 2 || stores != 1 {
		t.Errorf("expected 2 loads and 1 store, got %d and %d", loads, stores)
	}
}

func TestFinder_Find_ObservesLookups(t *testing.T) {
	provider := testutil.NewMockBlameProvider()
	provider.SetFile(userBlame())
	finder := New(quietLogger(), provider, Config{})

	var seen []blame.Key
	finder.Resolver().OnLookup(func(k blame.Key, _ time.Duration, err error) {
		if err == nil {
			seen = append(seen, k)
		}
	})

	if _, err := finder.Find(context.Background(), parseUserDiff(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0].Commit != "2222222" {
		t.Errorf("expected one observed lookup at 2222222, got %v", seen)
	}
}
