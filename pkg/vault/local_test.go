package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/snapvault/snapvault/pkg/engine"
)

func newTestStore(t *testing.T) (*LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{"0-Inbox", "4-Archives", "Daily Notes", "3-Resources/Ideas"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", sub, err)
		}
	}
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store, dir
}

func TestLocalCreateReadWrite(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "Daily Notes", "2025-06-01.md", []byte("## Tasks\n"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, err := store.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "## Tasks\n" {
		t.Errorf("content = %q", data)
	}

	if err := store.Write(ctx, id, []byte("## Tasks\n- [ ] x\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, _ = store.Read(ctx, id)
	if string(data) != "## Tasks\n- [ ] x\n" {
		t.Errorf("content after write = %q", data)
	}
}

func TestLocalCreateIsExclusive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "0-Inbox", "a.md", []byte("x")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := store.Create(ctx, "0-Inbox", "a.md", []byte("y")); err == nil {
		t.Fatal("second create of the same name succeeded")
	}
}

func TestLocalFindAndResolvePath(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Find(ctx, "0-Inbox", "missing.png"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("Find missing err = %v, want ErrNotFound", err)
	}

	folderID, err := store.ResolvePath(ctx, ".", "3-Resources/Ideas")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if _, err := store.Create(ctx, folderID, "Ideas.md", []byte("# Ideas\n")); err != nil {
		t.Fatalf("Create in resolved folder: %v", err)
	}
	doc, err := store.Find(ctx, folderID, "Ideas.md")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if doc.MimeType != "text/markdown" {
		t.Errorf("mime = %q", doc.MimeType)
	}

	if _, err := store.ResolvePath(ctx, ".", "no/such/folder"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("ResolvePath missing err = %v, want ErrNotFound", err)
	}
}

func TestLocalIDStableAcrossRenameAndMove(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "0-Inbox", "IMG_0042.png", []byte("img"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Rename(ctx, id, "2025-06-01-whiteboard.png"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	// The original ID still reaches the renamed file.
	if _, err := store.Read(ctx, id); err != nil {
		t.Fatalf("Read after rename: %v", err)
	}

	if err := store.Move(ctx, id, "4-Archives"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	data, err := store.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(data) != "img" {
		t.Errorf("content = %q", data)
	}

	if _, err := os.Stat(filepath.Join(dir, "4-Archives", "2025-06-01-whiteboard.png")); err != nil {
		t.Errorf("file not at archived path: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "0-Inbox", "IMG_0042.png")); !errors.Is(err, os.ErrNotExist) {
		t.Error("original file still in inbox")
	}
}

func TestLocalListReportsImages(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "0-Inbox", "shot.png"), []byte("img"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "0-Inbox", "shot.heic"), []byte("img"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	docs, err := store.List(ctx, "0-Inbox")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	mimes := map[string]string{}
	for _, d := range docs {
		mimes[d.Name] = d.MimeType
	}
	if mimes["shot.png"] != "image/png" {
		t.Errorf("png mime = %q", mimes["shot.png"])
	}
	if mimes["shot.heic"] != "image/heic" {
		t.Errorf("heic mime = %q", mimes["shot.heic"])
	}
}

func TestLocalRejectsEscapingIDs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Read(ctx, "../outside.txt"); err == nil {
		t.Fatal("read outside the root succeeded")
	}
	if _, err := store.Read(ctx, "/etc/passwd"); err == nil {
		t.Fatal("absolute path read succeeded")
	}
}
