// Package remotefs exposes the SFTP-backed file operations as typed,
// caller-facing shapes. Every operation is a thin delegation to the
// session's transport.
package remotefs

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/transport"
)

// Entry describes one remote file system entry.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"modTime"`
	IsDir   bool      `json:"isDir"`
}

// entry converts the transport shape.
func entry(fi transport.FileInfo) Entry {
	return Entry{
		Name:    fi.Name,
		Size:    fi.Size,
		Mode:    fi.Mode.String(),
		ModTime: fi.ModTime,
		IsDir:   fi.IsDir,
	}
}

// wrap classifies a transport file-operation failure.
func wrap(op, path string, err error) error {
	return hoisterr.Wrap(hoisterr.KindConnection,
		fmt.Sprintf("%s %s failed", op, path), err)
}

// Upload writes data to the remote path with the given mode.
func Upload(ctx context.Context, t transport.Transport, path string, data []byte, mode uint32) error {
	if err := t.Upload(ctx, bytes.NewReader(data), path, mode); err != nil {
		return wrap("upload", path, err)
	}
	return nil
}

// Download reads the remote path.
func Download(ctx context.Context, t transport.Transport, path string) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Download(ctx, path, &buf); err != nil {
		return nil, wrap("download", path, err)
	}
	return buf.Bytes(), nil
}

// Stat describes the remote path.
func Stat(ctx context.Context, t transport.Transport, path string) (*Entry, error) {
	fi, err := t.Stat(ctx, path)
	if err != nil {
		return nil, wrap("stat", path, err)
	}
	e := entry(*fi)
	return &e, nil
}

// List returns the entries of a remote directory.
func List(ctx context.Context, t transport.Transport, path string) ([]Entry, error) {
	fis, err := t.List(ctx, path)
	if err != nil {
		return nil, wrap("list", path, err)
	}
	entries := make([]Entry, 0, len(fis))
	for _, fi := range fis {
		entries = append(entries, entry(fi))
	}
	return entries, nil
}

// Mkdir creates a remote directory.
func Mkdir(ctx context.Context, t transport.Transport, path string) error {
	if err := t.Mkdir(ctx, path); err != nil {
		return wrap("mkdir", path, err)
	}
	return nil
}

// RemoveDir removes an empty remote directory.
func RemoveDir(ctx context.Context, t transport.Transport, path string) error {
	if err := t.RemoveDir(ctx, path); err != nil {
		return wrap("rmdir", path, err)
	}
	return nil
}

// Remove deletes a remote file.
func Remove(ctx context.Context, t transport.Transport, path string) error {
	if err := t.Remove(ctx, path); err != nil {
		return wrap("remove", path, err)
	}
	return nil
}

// Rename moves a remote path.
func Rename(ctx context.Context, t transport.Transport, oldPath, newPath string) error {
	if err := t.Rename(ctx, oldPath, newPath); err != nil {
		return wrap("rename", oldPath, err)
	}
	return nil
}
