package bits

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestStore_PutImage(t *testing.T) {
	store := newTestStore(t)

	if err := store.PutImage("b.png", "OEBPS/b.png", Order{Doc: 1}, []byte("b")); err != nil {
		t.Fatalf("PutImage() error = %v", err)
	}
	if err := store.PutImage("a.png", "OEBPS/a.png", Order{Doc: 2}, []byte("a")); err != nil {
		t.Fatalf("PutImage() error = %v", err)
	}
	// Same image referenced twice is not a collision
	if err := store.PutImage("b.png", "OEBPS/b.png", Order{Doc: 3}, []byte("b")); err != nil {
		t.Fatalf("PutImage() error = %v", err)
	}

	images := store.Images()
	if len(images) != 2 || images[0].Name != "b.png" || images[1].Name != "a.png" {
		t.Fatalf("Images() = %+v, want [b.png a.png] in first-reference order", images)
	}
	if dir := filepath.Dir(images[0].Path); dir != store.Dir() {
		t.Errorf("image written to %s, want %s", dir, store.Dir())
	}
	if c := store.Collisions(); len(c) != 0 {
		t.Errorf("Collisions() = %v, want none", c)
	}
}

func TestStore_InvalidNames(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"", ".", "..", "dir/a.png", payloadName} {
		if err := store.PutImage(name, "src", Order{}, []byte("x")); err == nil {
			t.Errorf("PutImage(%q) error = nil, want error", name)
		}
	}
}

func TestStore_CollisionLastReferenceWins(t *testing.T) {
	type write struct {
		source string
		order  Order
	}
	early := write{"OEBPS/a/pic.png", Order{Doc: 0, Seq: 4}}
	late := write{"OEBPS/b/pic.png", Order{Doc: 2, Seq: 0}}

	for _, writes := range [][]write{{early, late}, {late, early}} {
		store := newTestStore(t)
		for _, w := range writes {
			if err := store.PutImage("pic.png", w.source, w.order, []byte(w.source)); err != nil {
				t.Fatalf("PutImage() error = %v", err)
			}
		}

		images := store.Images()
		if len(images) != 1 {
			t.Fatalf("Images() = %d, want 1", len(images))
		}
		if images[0].Source != late.source {
			t.Errorf("Source = %q, want %q", images[0].Source, late.source)
		}
		data, err := os.ReadFile(images[0].Path)
		if err != nil {
			t.Fatalf("read image: %v", err)
		}
		if string(data) != late.source {
			t.Errorf("stored content = %q, want %q", data, late.source)
		}

		collisions := store.Collisions()
		if len(collisions) != 1 {
			t.Fatalf("Collisions() = %v, want 1", collisions)
		}
		c := collisions[0]
		if c.Kind != KindImageCollision || c.Subject != "pic.png" {
			t.Errorf("collision = %+v", c)
		}
		if !strings.Contains(c.Message, "kept "+late.source) {
			t.Errorf("collision message = %q, want it to name the kept source", c.Message)
		}
	}
}

func TestStore_ConcurrentWritesAreDeterministic(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for doc := 0; doc < 16; doc++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := "OEBPS/d" + string(rune('a'+doc)) + "/shared.png"
			_ = store.PutImage("shared.png", src, Order{Doc: doc}, []byte(src))
		}()
	}
	wg.Wait()

	images := store.Images()
	if len(images) != 1 || images[0].Source != "OEBPS/dp/shared.png" {
		t.Fatalf("Images() = %+v, want the last document's image", images)
	}
}

func TestStore_Close(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := store.PutImage("a.png", "a", Order{}, []byte("x")); err != nil {
		t.Fatalf("PutImage() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(store.Dir()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("scratch directory still exists after Close(): %v", err)
	}
}

func TestNewStore_IsolatedDirectories(t *testing.T) {
	parent := t.TempDir()
	a, err := NewStore(parent)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer a.Close()
	b, err := NewStore(parent)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer b.Close()

	if a.Dir() == b.Dir() {
		t.Errorf("two stores share %s", a.Dir())
	}
}
