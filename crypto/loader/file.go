package loader

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// keyPerm makes the key readable by the owner of the process only.
const keyPerm = 0400

// fileLoader keeps the key of a domain in a file of its configuration folder.
//
// - implements loader.Loader
type fileLoader struct {
	path string

	readFn  func(path string) ([]byte, error)
	writeFn func(path string, data []byte, perm fs.FileMode) error
	mkdirFn func(path string, perm fs.FileMode) error
}

// NewFileLoader returns a loader of the key stored at the path.
func NewFileLoader(path string) Loader {
	return fileLoader{
		path:    path,
		readFn:  os.ReadFile,
		writeFn: os.WriteFile,
		mkdirFn: os.MkdirAll,
	}
}

// LoadOrCreate implements loader.Loader. A missing file is created with a new
// key, along with the missing folders of its path.
func (l fileLoader) LoadOrCreate(g Generator) ([]byte, error) {
	data, err := l.readFn(l.path)
	if err == nil {
		return data, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return nil, xerrors.Errorf("failed to load file: %v", err)
	}

	data, err = g.Generate()
	if err != nil {
		return nil, xerrors.Errorf("generator failed: %v", err)
	}

	err = l.mkdirFn(filepath.Dir(l.path), 0700)
	if err != nil {
		return nil, xerrors.Errorf("failed to create folder: %v", err)
	}

	err = l.writeFn(l.path, data, keyPerm)
	if err != nil {
		return nil, xerrors.Errorf("failed to write file: %v", err)
	}

	return data, nil
}

// Load implements loader.Loader.
func (l fileLoader) Load() ([]byte, error) {
	data, err := l.readFn(l.path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read file: %v", err)
	}

	return data, nil
}
