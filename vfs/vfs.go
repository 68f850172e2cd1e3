// Package vfs implements the per-session virtual file system. Each
// Workspace is a purely in-memory tree scoped to one session; every
// path resolves to a location strictly inside the workspace root or
// the operation fails with PATH_TRAVERSAL.
package vfs

import (
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/codexec/types"
)

// Entry is one row of a directory listing.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int    `json:"size,omitempty"`
}

// Workspace is a session-scoped in-memory file tree. All mutations are
// confined to the workspace; there is no cross-workspace visibility and
// no backing OS directory to escape into.
type Workspace struct {
	mu       sync.RWMutex
	files    map[string][]byte
	dirs     map[string]struct{}
	readOnly []string
	logger   *zap.Logger
}

// NewWorkspace creates an empty workspace containing only the root.
func NewWorkspace(logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{
		files:  make(map[string][]byte),
		dirs:   map[string]struct{}{"/": {}},
		logger: logger,
	}
}

// Resolve normalizes p relative to the workspace root and rejects any
// form of traversal: ".." segments, backslash separators hiding them,
// and NUL bytes. The returned path is always rooted at "/" and contains
// no ".." segment.
func (w *Workspace) Resolve(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", types.NewError(types.ErrPathTraversal, "invalid path")
	}
	norm := strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(norm, "/") {
		if seg == ".." {
			return "", types.NewError(types.ErrPathTraversal, "path escapes workspace")
		}
	}
	clean := path.Clean("/" + norm)
	// Clean of a rooted path cannot produce "..", but the invariant is
	// load-bearing, so keep the check.
	if clean != "/" && (strings.HasPrefix(clean, "/..") || strings.Contains(clean, "/../")) {
		return "", types.NewError(types.ErrPathTraversal, "path escapes workspace")
	}
	return clean, nil
}

// SetReadOnly marks a subtree as read-only for user writes. Mounts via
// MountFile still succeed, so the tool file system can populate it.
func (w *Workspace) SetReadOnly(prefix string) error {
	clean, err := w.Resolve(prefix)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	// Mount re-runs on every session reset; the prefix list must not grow.
	for _, existing := range w.readOnly {
		if existing == clean {
			return nil
		}
	}
	w.readOnly = append(w.readOnly, clean)
	return nil
}

func (w *Workspace) isReadOnly(clean string) bool {
	for _, prefix := range w.readOnly {
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}
	return false
}

// Read returns the content of the file at p.
func (w *Workspace) Read(p string) ([]byte, error) {
	clean, err := w.Resolve(p)
	if err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	content, ok := w.files[clean]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "file not found: "+clean)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

// Write stores content at p, creating parent directories. Writes into a
// read-only subtree fail with PERMISSION_DENIED.
func (w *Workspace) Write(p string, content []byte) error {
	clean, err := w.Resolve(p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return types.NewError(types.ErrPermissionDenied, "cannot write to workspace root")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isReadOnly(clean) {
		return types.NewError(types.ErrPermissionDenied, "write denied: "+clean)
	}
	if _, isDir := w.dirs[clean]; isDir {
		return types.NewError(types.ErrPermissionDenied, "path is a directory: "+clean)
	}
	w.mkdirs(path.Dir(clean))
	stored := make([]byte, len(content))
	copy(stored, content)
	w.files[clean] = stored
	return nil
}

// MountFile stores content bypassing read-only protection. It exists so
// the tool file system can (re)generate stub files under a subtree that
// user code cannot modify.
func (w *Workspace) MountFile(p string, content []byte) error {
	clean, err := w.Resolve(p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return types.NewError(types.ErrPermissionDenied, "cannot mount at workspace root")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mkdirs(path.Dir(clean))
	stored := make([]byte, len(content))
	copy(stored, content)
	w.files[clean] = stored
	return nil
}

// mkdirs records every ancestor of clean as a directory. Caller holds mu.
func (w *Workspace) mkdirs(clean string) {
	for clean != "/" {
		w.dirs[clean] = struct{}{}
		clean = path.Dir(clean)
	}
}

// List returns the entries directly under dir, directories first, then
// files, each group in lexical order. The listing is a finite snapshot.
func (w *Workspace) List(dir string) ([]Entry, error) {
	clean, err := w.Resolve(dir)
	if err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.dirs[clean]; !ok {
		return nil, types.NewError(types.ErrNotFound, "directory not found: "+clean)
	}

	prefix := clean
	if prefix != "/" {
		prefix += "/"
	}
	var dirEntries, fileEntries []Entry
	for d := range w.dirs {
		if d == clean || !strings.HasPrefix(d, prefix) {
			continue
		}
		if rest := d[len(prefix):]; !strings.Contains(rest, "/") {
			dirEntries = append(dirEntries, Entry{Name: rest, Path: d, IsDir: true})
		}
	}
	for f, content := range w.files {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		if rest := f[len(prefix):]; !strings.Contains(rest, "/") {
			fileEntries = append(fileEntries, Entry{Name: rest, Path: f, Size: len(content)})
		}
	}
	sort.Slice(dirEntries, func(i, j int) bool { return dirEntries[i].Name < dirEntries[j].Name })
	sort.Slice(fileEntries, func(i, j int) bool { return fileEntries[i].Name < fileEntries[j].Name })
	return append(dirEntries, fileEntries...), nil
}

// Exists reports whether p names a file or directory.
func (w *Workspace) Exists(p string) bool {
	clean, err := w.Resolve(p)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.files[clean]; ok {
		return true
	}
	_, ok := w.dirs[clean]
	return ok
}

// Remove deletes a file. Read-only subtrees are protected.
func (w *Workspace) Remove(p string) error {
	clean, err := w.Resolve(p)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isReadOnly(clean) {
		return types.NewError(types.ErrPermissionDenied, "remove denied: "+clean)
	}
	if _, ok := w.files[clean]; !ok {
		return types.NewError(types.ErrNotFound, "file not found: "+clean)
	}
	delete(w.files, clean)
	return nil
}

// Reset discards all workspace content, returning the tree to an empty
// root. Read-only prefixes survive so remounted stubs stay protected.
func (w *Workspace) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = make(map[string][]byte)
	w.dirs = map[string]struct{}{"/": {}}
}

// Stats returns the current file count and total byte size.
func (w *Workspace) Stats() (files int, bytes int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, content := range w.files {
		bytes += len(content)
	}
	return len(w.files), bytes
}
