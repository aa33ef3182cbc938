package authsession

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// FileTokenMedium persists tokens in a small JSON document mapping key to
// token. Writes go through a temp file and rename.
type FileTokenMedium struct {
	path string
	key  string
	mu   sync.Mutex
}

// NewFileTokenMedium stores the token under key in the document at path.
func NewFileTokenMedium(path, key string) *FileTokenMedium {
	if key == "" {
		key = DefaultTokenKey
	}
	return &FileTokenMedium{path: path, key: key}
}

// Path returns the document location
func (m *FileTokenMedium) Path() string {
	return m.path
}

func (m *FileTokenMedium) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.read()
	if err != nil {
		return "", err
	}
	return doc[m.key], nil
}

func (m *FileTokenMedium) Save(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.read()
	if err != nil {
		doc = map[string]string{}
	}
	doc[m.key] = token
	return m.write(doc)
}

func (m *FileTokenMedium) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.read()
	if err != nil {
		return err
	}
	if _, ok := doc[m.key]; !ok {
		return nil
	}
	delete(doc, m.key)
	if len(doc) == 0 {
		if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove token file")
		}
		return nil
	}
	return m.write(doc)
}

func (m *FileTokenMedium) read() (map[string]string, error) {
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read token file").
			WithMetadata(map[string]any{"path": m.path})
	}

	doc := map[string]string{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "token file is corrupt").
			WithMetadata(map[string]any{"path": m.path})
	}
	return doc, nil
}

func (m *FileTokenMedium) write(doc map[string]string) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode token file")
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create token directory")
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create temp token file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write token file")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to restrict token file")
	}
	if err := tmp.Close(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to flush token file")
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to replace token file")
	}
	return nil
}
