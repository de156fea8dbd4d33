package artifact

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore keeps artifacts on the local filesystem under Root.
type FSStore struct {
	root    string
	baseURL string
}

// NewFS returns a store rooted at root. baseURL is the public prefix that
// serves root, e.g. "https://example.org/media".
func NewFS(root, baseURL string) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, storageErr("init", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, storageErr("init", root, err)
	}
	return &FSStore{root: abs, baseURL: baseURL}, nil
}

func (s *FSStore) Root() string { return s.root }

func (s *FSStore) resolve(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FSStore) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storageErr("save", key, err)
	}
	p, err := s.resolve(key)
	if err != nil {
		return "", storageErr("save", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", storageErr("save", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return "", storageErr("save", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", storageErr("save", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", storageErr("save", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return "", storageErr("save", key, err)
	}
	return s.URL(key), nil
}

func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, storageErr("exists", key, err)
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, storageErr("exists", key, err)
	}
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return storageErr("delete", key, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("delete", key, err)
	}
	return nil
}

func (s *FSStore) Read(ctx context.Context, key string) (Object, error) {
	p, err := s.resolve(key)
	if err != nil {
		return Object{}, storageErr("read", key, err)
	}
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, storageErr("read", key, ErrNotFound)
	}
	if err != nil {
		return Object{}, storageErr("read", key, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return Object{}, storageErr("read", key, err)
	}
	return Object{Data: data, ContentType: ContentTypeMP3, ModTime: st.ModTime()}, nil
}

func (s *FSStore) URL(key string) string { return joinURL(s.baseURL, key) }
