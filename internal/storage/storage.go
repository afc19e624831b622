// Package storage abstracts remote archive destinations.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Backend stores archived media outside the local archive tree. Remote here
// means "not the bridge's own archive directory"; a mounted filesystem
// qualifies as much as an object store adapter.
type Backend interface {
	// Upload copies a local file to remotePath, creating parents as needed.
	Upload(ctx context.Context, localPath, remotePath string) error
	// CreateDirectory ensures the directory exists.
	CreateDirectory(ctx context.Context, path string) error
	// List returns the entries directly under path.
	List(ctx context.Context, path string) ([]string, error)
}

// DirBackend is a Backend rooted at a filesystem directory, typically a
// network mount.
type DirBackend struct {
	root string
}

// NewDirBackend creates a backend rooted at root.
func NewDirBackend(root string) (*DirBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &DirBackend{root: root}, nil
}

// Upload copies the local file into the rooted tree.
func (b *DirBackend) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := filepath.Join(b.root, remotePath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create remote dir: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy to remote: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close remote file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize remote file: %w", err)
	}
	return nil
}

// CreateDirectory ensures a directory exists under the root.
func (b *DirBackend) CreateDirectory(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(b.root, path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return nil
}

// List returns the names of entries directly under path.
func (b *DirBackend) List(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(b.root, path))
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
