// Package workspace stages submitted source files into per-session
// directories that are bind-mounted into the sandbox container.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	dirPerm  = 0o777
	filePerm = 0o666
)

var ErrInvalidFileName = errors.New("invalid source file name")

// Manager owns the workspace root. Each session gets <root>/<session id>,
// which holds at most one staged source file at a time.
type Manager struct {
	root string

	mu     sync.Mutex
	active map[string]bool // session dirs currently staged
}

// New creates the workspace root if needed.
func New(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "coderelay-workspaces")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Manager{
		root:   abs,
		active: make(map[string]bool),
	}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the directory used by a session. It does not create it.
func (m *Manager) Path(sessionID string) string {
	return filepath.Join(m.root, sanitizeName(sessionID))
}

// Stage clears the session directory, writes source to fileName and syncs
// both the file and the directory so a container started right after sees
// the complete file. It returns the directory path.
func (m *Manager) Stage(sessionID, fileName, source string) (string, error) {
	if fileName == "" || fileName != filepath.Base(fileName) || strings.HasPrefix(fileName, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, fileName)
	}

	dir := m.Path(sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Stale files from a previous run must never reach a new container.
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing workspace %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("creating workspace %s: %w", dir, err)
	}
	// MkdirAll is subject to umask; the container user needs write access
	// for compiled output.
	if err := os.Chmod(dir, dirPerm); err != nil {
		return "", fmt.Errorf("chmod workspace %s: %w", dir, err)
	}
	m.active[dir] = true

	path := filepath.Join(dir, fileName)
	if err := writeDurable(path, source); err != nil {
		return "", err
	}
	if err := syncDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// Release removes the session directory. Releasing a directory that is
// already gone is not an error.
func (m *Manager) Release(sessionID string) error {
	dir := m.Path(sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, dir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing workspace %s: %w", dir, err)
	}
	return nil
}

// Active reports whether the session currently has a staged workspace.
func (m *Manager) Active(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[m.Path(sessionID)]
}

// Sweep removes directories under the root that are not staged by any live
// session and were last modified more than maxAge ago. It returns the number
// of directories removed.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("reading workspace root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		path := filepath.Join(m.root, e.Name())
		if m.active[path] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func writeDurable(path, source string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("creating source file: %w", err)
	}
	if _, err := f.WriteString(source); err != nil {
		f.Close()
		return fmt.Errorf("writing source file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing source file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing source file: %w", err)
	}
	return os.Chmod(path, filePerm)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening workspace dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing workspace dir: %w", err)
	}
	return nil
}

// sanitizeName keeps a session ID safe for use as a single path element.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
