package blame

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Static serves blame from an in-memory set of files.
type Static struct {
	files map[Key]*File
	mu    sync.RWMutex
}

// NewStatic returns a Static provider holding files.
func NewStatic(files ...*File) *Static {
	s := &Static{files: make(map[Key]*File)}
	for _, f := range files {
		s.Add(f)
	}
	return s
}

// LoadStatic reads a JSON array of File values from path.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading blame fixtures: %w", err)
	}
	var files []*File
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("decoding blame fixtures %s: %w", path, err)
	}
	for _, f := range files {
		if f.LineCount == 0 {
			f.LineCount = len(f.Lines)
		}
	}
	return NewStatic(files...), nil
}

// Add registers f, replacing any file with the same path and commit.
func (s *Static) Add(f *File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[Key{Path: f.Path, Commit: f.Commit}] = f
}

// Blame implements Provider.
func (s *Static) Blame(_ context.Context, path, commit string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[Key{Path: path, Commit: commit}]
	if !ok {
		return nil, fmt.Errorf("%s@%s: %w", path, commit, ErrNotAvailable)
	}
	return f, nil
}
