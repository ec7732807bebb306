package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// File stores one JSON document per key in a directory, readable by the owner only.
type File struct {
	dir string
}

func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("state dir is required")
	}
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("state dir must be absolute")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir state dir: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) Load(_ context.Context, key string) ([]byte, error) {
	path := f.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	if err := checkStateFile(path); err != nil {
		return nil, err
	}
	return data, nil
}

// Save writes through a temp file so a crash never leaves a torn record.
func (f *File) Save(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
