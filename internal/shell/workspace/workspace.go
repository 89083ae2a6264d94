// Package workspace hands out scoped scratch directories for rendered
// artifacts and secret material. Every directory is removed by Close, which
// callers defer immediately after Create.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns working directories under a common root.
type Manager struct {
	root   string
	logger *slog.Logger
}

// New ensures the workspace root exists. An empty root uses the system
// temp directory.
func New(root string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		root = filepath.Join(os.TempDir(), "quickops")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root, logger: logger.With("component", "workspace")}, nil
}

// Root returns the workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Create makes a fresh, uniquely named directory whose name starts with
// prefix. Concurrent runs never share a directory.
func (m *Manager) Create(prefix string) (*Dir, error) {
	if prefix == "" || strings.ContainsAny(prefix, `/\`) {
		return nil, fmt.Errorf("invalid workspace prefix %q", prefix)
	}
	path, err := os.MkdirTemp(m.root, prefix+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if err := os.Chmod(path, 0o700); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("restrict workspace: %w", err)
	}
	return &Dir{path: path, root: m.root, logger: m.logger}, nil
}

// Dir is one scoped working directory.
type Dir struct {
	path   string
	root   string
	logger *slog.Logger
	closed bool
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// Join returns a path inside the directory.
func (d *Dir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// WriteFile writes data to name inside the directory with mode 0644.
func (d *Dir) WriteFile(name string, data []byte) (string, error) {
	return d.write(name, data, 0o644)
}

// WriteSecret writes data to name with owner-only permissions. A trailing
// newline is ensured since OpenSSH rejects keys without one.
func (d *Dir) WriteSecret(name string, data []byte) (string, error) {
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(append([]byte{}, data...), '\n')
	}
	return d.write(name, data, 0o600)
}

func (d *Dir) write(name string, data []byte, mode os.FileMode) (string, error) {
	p := d.Join(name)
	if !d.contains(p) {
		return "", fmt.Errorf("refusing to write outside workspace: %s", name)
	}
	if err := os.WriteFile(p, data, mode); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	// WriteFile only applies mode on create.
	if err := os.Chmod(p, mode); err != nil {
		return "", fmt.Errorf("chmod %s: %w", name, err)
	}
	return p, nil
}

func (d *Dir) contains(p string) bool {
	rel, err := filepath.Rel(d.path, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// Close removes the directory and everything in it. It is safe to call more
// than once.
func (d *Dir) Close() error {
	if d.closed {
		return nil
	}
	rel, err := filepath.Rel(d.root, d.path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove path outside workspace root: %s", d.path)
	}
	if err := os.RemoveAll(d.path); err != nil {
		d.logger.Warn("failed to remove workspace", "path", d.path, "error", err)
		return err
	}
	d.closed = true
	return nil
}
