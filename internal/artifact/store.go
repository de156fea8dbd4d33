// Package artifact stores narration audio in an object store and maps
// content items to their storage paths.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStorage is matched by every error a Store returns.
	ErrStorage = errors.New("artifact storage failed")
	// ErrNotFound is returned by Read when the object does not exist.
	ErrNotFound = errors.New("artifact not found")
)

const ContentTypeMP3 = "audio/mpeg"

// Object is an artifact read back from the store.
type Object struct {
	Data        []byte
	ContentType string
	ModTime     time.Time
}

// Store is an object store keyed by relative path. Delete is idempotent.
type Store interface {
	// Save writes data at path and returns its public URL.
	Save(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	Read(ctx context.Context, path string) (Object, error)
	URL(path string) string
}

type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifact: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Path: path, Err: err}
}
