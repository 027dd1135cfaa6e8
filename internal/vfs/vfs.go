// Package vfs exposes the current set of editor tabs as a flat, in-memory
// virtual filesystem addressed by logical module path.
package vfs

import (
	"fmt"
	"path"
	"strings"
)

// File is one editor tab: a name unique within the snapshot and its source.
type File struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// SpecifierKind classifies an import specifier found in module source.
type SpecifierKind int

const (
	// KindLocal addresses another virtual file ("./util").
	KindLocal SpecifierKind = iota
	// KindResolved carries a URL scheme and passes through unchanged.
	KindResolved
	// KindBare names an external package resolved via the CDN template.
	KindBare
)

// ModuleNotFoundError reports a local specifier with no matching virtual file.
type ModuleNotFoundError struct {
	Path string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module not found: %s", e.Path)
}

// Snapshot is an immutable view of the tabs taken at build start. The entry
// module is the first file by convention.
type Snapshot struct {
	byPath map[string]File
	byName map[string]File
	entry  string
}

// NewSnapshot builds a snapshot from the given files. Duplicate tab names
// (or names whose stripped logical path collides) are rejected.
func NewSnapshot(files []File) (*Snapshot, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("snapshot requires at least one file")
	}
	s := &Snapshot{
		byPath: make(map[string]File, len(files)),
		byName: make(map[string]File, len(files)),
	}
	for _, f := range files {
		if f.Name == "" {
			return nil, fmt.Errorf("file with empty name")
		}
		if _, ok := s.byName[f.Name]; ok {
			return nil, fmt.Errorf("duplicate file name: %s", f.Name)
		}
		p := LogicalPath(f.Name)
		if prev, ok := s.byPath[p]; ok {
			return nil, fmt.Errorf("files %s and %s share logical path %s", prev.Name, f.Name, p)
		}
		s.byName[f.Name] = f
		s.byPath[p] = f
	}
	s.entry = LogicalPath(files[0].Name)
	return s, nil
}

// Entry returns the logical path of the entry module.
func (s *Snapshot) Entry() string {
	return s.entry
}

// Has reports whether a logical path addresses a virtual file.
func (s *Snapshot) Has(p string) bool {
	_, ok := s.byPath[s.Normalize(p)]
	return ok
}

// Read returns a file's source by logical path.
func (s *Snapshot) Read(p string) (string, error) {
	f, ok := s.byPath[s.Normalize(p)]
	if !ok {
		return "", &ModuleNotFoundError{Path: p}
	}
	return f.Source, nil
}

// Lookup returns the full file record for a logical path, so callers can
// pick a loader from the original extension.
func (s *Snapshot) Lookup(p string) (File, bool) {
	f, ok := s.byPath[s.Normalize(p)]
	return f, ok
}

// LookupName finds a tab by its exact name, extension included. Stylesheet
// specifiers address tabs this way ("./styles.css" -> tab "styles.css").
func (s *Snapshot) LookupName(name string) (File, bool) {
	f, ok := s.byName[strings.TrimPrefix(name, "./")]
	return f, ok
}

// Normalize collapses a specifier relative to the flat virtual root. All
// tabs live in one directory, so "../x" and "./a/../x" both land on "./x".
func (s *Snapshot) Normalize(specifier string) string {
	p := path.Clean("/" + specifier)
	return "." + p
}

// LogicalPath converts a tab name to its logical module path: the extension
// is stripped and a "./" prefix added ("main.tsx" -> "./main").
func LogicalPath(name string) string {
	if ext := path.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	return "./" + name
}

// Classify buckets a specifier by how it resolves. Stylesheet handling is
// orthogonal: callers check IsStylesheet first.
func Classify(specifier string) SpecifierKind {
	switch {
	case strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		return KindLocal
	case strings.Contains(specifier, "://"),
		strings.HasPrefix(specifier, "blob:"),
		strings.HasPrefix(specifier, "data:"):
		return KindResolved
	default:
		return KindBare
	}
}

// IsStylesheet reports whether a specifier names a stylesheet, regardless
// of where it resolves.
func IsStylesheet(specifier string) bool {
	return strings.HasSuffix(specifier, ".css")
}
