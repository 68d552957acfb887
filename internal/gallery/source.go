package gallery

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one reference image to be embedded.
type Entry struct {
	ID   string
	Name string
	Path string
}

// Source enumerates reference images in a stable order.
type Source interface {
	Entries() ([]Entry, error)
}

// PatternSource addresses images by numeric index through a printf pattern,
// e.g. "static/Image/students%02d.png" with Count 43.
type PatternSource struct {
	Pattern string
	Start   int
	Count   int
}

func (s PatternSource) Entries() ([]Entry, error) {
	if !strings.Contains(s.Pattern, "%") {
		return nil, fmt.Errorf("gallery pattern %q has no index verb", s.Pattern)
	}
	if s.Count < 1 {
		return nil, fmt.Errorf("gallery count must be >= 1, got %d", s.Count)
	}
	entries := make([]Entry, 0, s.Count)
	for i := s.Start; i < s.Start+s.Count; i++ {
		entries = append(entries, entryFor(fmt.Sprintf(s.Pattern, i)))
	}
	return entries, nil
}

// GlobSource enumerates every file matching a glob, in lexical order.
type GlobSource struct {
	Pattern string
}

func (s GlobSource) Entries() ([]Entry, error) {
	paths, err := filepath.Glob(s.Pattern)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files match %q", ErrEmpty, s.Pattern)
	}
	sort.Strings(paths)
	entries := make([]Entry, len(paths))
	for i, p := range paths {
		entries[i] = entryFor(p)
	}
	return entries, nil
}

// entryFor names an identity after its file stem ("students07.png" -> "students07").
func entryFor(path string) Entry {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Entry{ID: stem, Name: stem, Path: path}
}
