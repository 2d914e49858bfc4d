package vault

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/snapvault/snapvault/pkg/engine"
)

// LocalStore implements engine.DocumentStore on a directory tree. Document
// IDs are root-relative slash paths. Used for local vaults and by serve mode's
// filesystem watcher; Drive is the production backend.
//
// Path-based IDs go stale when a document is renamed or moved, so the store
// keeps an in-process alias map from handed-out IDs to current paths. Callers
// holding an old ID within the same invocation still reach the document.
type LocalStore struct {
	root string

	mu      sync.Mutex
	aliases map[string]string
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("vault root is not a directory")
	}
	return &LocalStore{root: abs, aliases: map[string]string{}}, nil
}

// abs converts a document ID to an absolute path, following rename/move
// aliases and rejecting escapes from the root.
func (l *LocalStore) abs(id string) (string, error) {
	l.mu.Lock()
	for hops := 0; hops <= len(l.aliases); hops++ {
		next, ok := l.aliases[id]
		if !ok {
			break
		}
		id = next
	}
	l.mu.Unlock()

	clean := filepath.Clean(filepath.FromSlash(id))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", engine.NewPermanentError("document id escapes the vault root", nil)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *LocalStore) alias(oldAbs, newAbs string) {
	oldID, newID := l.id(oldAbs), l.id(newAbs)
	if oldID == newID {
		return
	}
	l.mu.Lock()
	l.aliases[oldID] = newID
	l.mu.Unlock()
}

func (l *LocalStore) id(absPath string) string {
	rel, err := filepath.Rel(l.root, absPath)
	if err != nil {
		return absPath
	}
	return filepath.ToSlash(rel)
}

func (l *LocalStore) List(_ context.Context, folderID string) ([]engine.Document, error) {
	dir, err := l.abs(folderID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, engine.ErrNotFound
		}
		return nil, err
	}
	var out []engine.Document
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, engine.Document{
			ID:         l.id(filepath.Join(dir, e.Name())),
			Name:       e.Name(),
			MimeType:   localMime(e),
			ModifiedAt: info.ModTime(),
		})
	}
	return out, nil
}

func (l *LocalStore) ResolvePath(_ context.Context, rootID, path string) (string, error) {
	base, err := l.abs(rootID)
	if err != nil {
		return "", err
	}
	target := filepath.Join(base, filepath.FromSlash(path))
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", engine.ErrNotFound
		}
		return "", err
	}
	if !info.IsDir() {
		return "", engine.ErrNotFound
	}
	return l.id(target), nil
}

func (l *LocalStore) Find(_ context.Context, folderID, name string) (engine.Document, error) {
	dir, err := l.abs(folderID)
	if err != nil {
		return engine.Document{}, err
	}
	target := filepath.Join(dir, name)
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return engine.Document{}, engine.ErrNotFound
		}
		return engine.Document{}, err
	}
	return engine.Document{
		ID:         l.id(target),
		Name:       name,
		MimeType:   mimeFor(name, info.IsDir()),
		ModifiedAt: info.ModTime(),
	}, nil
}

func (l *LocalStore) Read(_ context.Context, id string) ([]byte, error) {
	path, err := l.abs(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, engine.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (l *LocalStore) Write(_ context.Context, id string, content []byte) error {
	path, err := l.abs(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return engine.ErrNotFound
	}
	// Atomic replace so a concurrent reader never sees a torn write.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (l *LocalStore) Create(_ context.Context, folderID, name string, content []byte) (string, error) {
	dir, err := l.abs(folderID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return l.id(path), nil
}

func (l *LocalStore) Move(_ context.Context, id, newParentID string) error {
	src, err := l.abs(id)
	if err != nil {
		return err
	}
	dstDir, err := l.abs(newParentID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return engine.ErrNotFound
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	l.alias(src, dst)
	return nil
}

func (l *LocalStore) Rename(_ context.Context, id, newName string) error {
	src, err := l.abs(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return engine.ErrNotFound
	}
	dst := filepath.Join(filepath.Dir(src), newName)
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	l.alias(src, dst)
	return nil
}

func (l *LocalStore) Delete(_ context.Context, id string) error {
	path, err := l.abs(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return engine.ErrNotFound
		}
		return err
	}
	return nil
}

func localMime(e fs.DirEntry) string {
	return mimeFor(e.Name(), e.IsDir())
}

func mimeFor(name string, isDir bool) string {
	if isDir {
		return folderMimeType
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".md":
		return "text/markdown"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".webp":
		return "image/webp"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
