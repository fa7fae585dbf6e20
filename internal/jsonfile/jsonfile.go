// Package jsonfile is a tiny database that keeps a single JSON document on
// disk. Every operation reloads the document under a file lock, so several
// processes can share one file.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

const (
	dirMode  = 0o700
	fileMode = 0o600
)

// JSONFile holds a document of type T stored at a path.
type JSONFile[T any] struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// New creates the file with the zero value of T. It fails if the file already
// exists.
func New[T any](path string) (*JSONFile[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	var zero T
	if err := json.NewEncoder(f).Encode(&zero); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("writing initial document: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing %s: %w", path, err)
	}
	return open[T](path), nil
}

// Load opens an existing file. The returned error wraps os.ErrNotExist if the
// file is missing.
func Load[T any](path string) (*JSONFile[T], error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	j := open[T](path)
	if err := j.Read(func(*T) {}); err != nil {
		return nil, err
	}
	return j, nil
}

func open[T any](path string) *JSONFile[T] {
	return &JSONFile[T]{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Read calls fn with the current document, under a shared lock. fn must not
// retain the pointer.
func (j *JSONFile[T]) Read(fn func(data *T)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.lock.RLock(); err != nil {
		return fmt.Errorf("acquiring read lock on %s: %w", j.path, err)
	}
	defer func() { _ = j.lock.Unlock() }()

	data, err := j.load()
	if err != nil {
		return err
	}
	fn(data)
	return nil
}

// Write calls fn with the current document under an exclusive lock, and
// persists the result if fn returns nil.
func (j *JSONFile[T]) Write(fn func(data *T) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.lock.Lock(); err != nil {
		return fmt.Errorf("acquiring write lock on %s: %w", j.path, err)
	}
	defer func() { _ = j.lock.Unlock() }()

	data, err := j.load()
	if err != nil {
		return err
	}
	if err := fn(data); err != nil {
		return err
	}
	return j.save(data)
}

func (j *JSONFile[T]) load() (*T, error) {
	b, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return new(T), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", j.path, err)
	}
	data := new(T)
	if len(b) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(b, data); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", j.path, err)
	}
	return data, nil
}

// save writes to a temp file in the same directory and renames it over the
// original, so readers never see a partial document.
func (j *JSONFile[T]) save(data *T) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.path), filepath.Base(j.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting temp file mode: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		return fmt.Errorf("replacing %s: %w", j.path, err)
	}
	return nil
}
