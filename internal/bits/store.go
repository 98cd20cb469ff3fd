package bits

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Order positions an image write in reading order. Writes with a greater
// Order replace earlier ones, so the last reference in the book wins no
// matter in which order concurrent workers get there.
type Order struct {
	Doc int
	Seq int
}

// Less reports whether o comes before other in reading order.
func (o Order) Less(other Order) bool {
	if o.Doc != other.Doc {
		return o.Doc < other.Doc
	}
	return o.Seq < other.Seq
}

// ImageAsset is an image written to the run's store.
type ImageAsset struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Path   string `json:"-"`

	first   Order
	last    Order
	sources map[string]struct{}
}

// Store is the isolated scratch directory of a single run. Images are
// written under their basename. Close removes everything.
type Store struct {
	dir string

	mu     sync.Mutex
	assets map[string]*ImageAsset
}

// NewStore creates a fresh scratch directory below parent (os.TempDir when empty).
func NewStore(parent string) (*Store, error) {
	dir, err := os.MkdirTemp(parent, "epub2bits-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Store{
		dir:    dir,
		assets: make(map[string]*ImageAsset),
	}, nil
}

// Dir returns the scratch directory.
func (s *Store) Dir() string {
	return s.dir
}

// PutImage writes data as name unless a write with a later Order already
// happened.
func (s *Store) PutImage(name, source string, order Order, data []byte) error {
	if !validAssetName(name) {
		return fmt.Errorf("invalid image file name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, exists := s.assets[name]
	if exists {
		asset.sources[source] = struct{}{}
		if order.Less(asset.first) {
			asset.first = order
		}
		if order.Less(asset.last) {
			return nil
		}
	}

	target := filepath.Join(s.dir, name)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if !exists {
		s.assets[name] = &ImageAsset{
			Name:    name,
			Source:  source,
			Path:    target,
			first:   order,
			last:    order,
			sources: map[string]struct{}{source: {}},
		}
		return nil
	}
	asset.Source = source
	asset.last = order
	return nil
}

// Images returns the written images ordered by their first reference.
func (s *Store) Images() []ImageAsset {
	s.mu.Lock()
	defer s.mu.Unlock()

	images := make([]ImageAsset, 0, len(s.assets))
	for _, a := range s.assets {
		images = append(images, *a)
	}
	sort.Slice(images, func(i, j int) bool {
		if images[i].first != images[j].first {
			return images[i].first.Less(images[j].first)
		}
		return images[i].Name < images[j].Name
	})
	return images
}

// Collisions reports every file name that more than one source image was
// written to, sorted by file name.
func (s *Store) Collisions() []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Diagnostic
	for name, a := range s.assets {
		if len(a.sources) < 2 {
			continue
		}
		sources := make([]string, 0, len(a.sources))
		for src := range a.sources {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		out = append(out, Diagnostic{
			Kind:    KindImageCollision,
			Subject: name,
			Message: fmt.Sprintf("%s share a file name; kept %s", strings.Join(sources, ", "), a.Source),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// Close removes the scratch directory and everything in it.
func (s *Store) Close() error {
	return os.RemoveAll(s.dir)
}

func validAssetName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return filepath.Base(name) == name && name != payloadName
}
