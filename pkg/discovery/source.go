package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Document is one referencing document.
type Document struct {
	ID      string
	Content string
}

// Source enumerates the documents that may embed gallery links.
type Source interface {
	Documents(ctx context.Context) ([]string, error)
	Document(ctx context.Context, id string) (Document, error)
}

// DefaultExtensions are the file types DirSource reads.
var DefaultExtensions = []string{".html", ".htm", ".md", ".txt"}

// DirSource reads documents from a directory tree. Document ids are slash
// separated paths relative to Root.
type DirSource struct {
	Root       string
	Extensions []string
}

// NewDirSource returns a source over root.
func NewDirSource(root string, extensions ...string) *DirSource {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &DirSource{Root: root, Extensions: extensions}
}

func (s *DirSource) accepts(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range s.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Documents lists the matching files, sorted.
func (s *DirSource) Documents(ctx context.Context) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.Root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.accepts(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.Root, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Document reads one file.
func (s *DirSource) Document(_ context.Context, id string) (Document, error) {
	clean := filepath.Clean(filepath.FromSlash(id))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return Document{}, fmt.Errorf("document %q is outside %s", id, s.Root)
	}
	b, err := os.ReadFile(filepath.Join(s.Root, clean))
	if err != nil {
		return Document{}, fmt.Errorf("read document %s: %w", id, err)
	}
	return Document{ID: id, Content: string(b)}, nil
}
