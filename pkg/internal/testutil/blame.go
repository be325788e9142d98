package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// MockBlameProvider implements blame.Provider for testing.
type MockBlameProvider struct {
	files  map[blame.Key]*blame.File
	errors map[blame.Key]error
	calls  []blame.Key
	mu     sync.Mutex
}

// NewMockBlameProvider creates an empty MockBlameProvider.
func NewMockBlameProvider() *MockBlameProvider {
	return &MockBlameProvider{
		files:  make(map[blame.Key]*blame.File),
		errors: make(map[blame.Key]error),
	}
}

// Blame returns the configured file or error, or blame.ErrNotAvailable.
func (m *MockBlameProvider) Blame(_ context.Context, path, commit string) (*blame.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := blame.Key{Path: path, Commit: commit}
	m.calls = append(m.calls, k)

	if err, ok := m.errors[k]; ok {
		return nil, err
	}
	if f, ok := m.files[k]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("mock %s: %w", k, blame.ErrNotAvailable)
}

// SetFile serves f for its path and commit.
func (m *MockBlameProvider) SetFile(f *blame.File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[blame.Key{Path: f.Path, Commit: f.Commit}] = f
}

// SetError makes lookups of (path, commit) fail with err.
func (m *MockBlameProvider) SetError(path, commit string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[blame.Key{Path: path, Commit: commit}] = err
}

// Calls returns the lookups made so far.
func (m *MockBlameProvider) Calls() []blame.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]blame.Key, len(m.calls))
	copy(out, m.calls)
	return out
}

// BlameLine is one line of a fixture built by NewBlameFile.
type BlameLine struct {
	Text   string
	Author string
}

// NewBlameFile builds a blame.File whose line i+1 holds lines[i].
func NewBlameFile(path, commit string, lines ...BlameLine) *blame.File {
	f := &blame.File{
		Path:      path,
		Commit:    commit,
		Authors:   make(map[int]types.Author, len(lines)),
		Lines:     make(map[int]string, len(lines)),
		LineCount: len(lines),
	}
	base := time.Date(2015, 11, 3, 10, 0, 0, 0, time.UTC)
	for i, l := range lines {
		n := i + 1
		f.Lines[n] = l.Text
		f.Authors[n] = types.Author{
			UserName:  l.Author,
			ShortHash: fmt.Sprintf("%07x", n),
			Timestamp: base.Add(time.Duration(n) * time.Hour),
		}
	}
	return f
}
