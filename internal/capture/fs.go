package capture

import (
	"errors"
	"io/fs"
	"os"
)

// FS is the slice of filesystem behaviour captures and health checks need.
type FS interface {
	Exists(path string) (bool, error)
	Size(path string) (int64, error)
	EnsureDir(path string) error
}

// OSFS is FS on the local disk.
type OSFS struct{}

func (OSFS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (OSFS) Size(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (OSFS) EnsureDir(path string) error { return os.MkdirAll(path, 0o755) }
