package staging

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// localStore is a filesystem-backed Store. Every call checks ctx before
// touching the disk.
type localStore struct {
	loc  Location
	root string
}

func newLocalStore(l Location) *localStore {
	return &localStore{loc: l, root: filepath.FromSlash(l.Path)}
}

func (s *localStore) URL() string { return s.loc.String() }

func (s *localStore) path(name string) (string, error) {
	n, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(n)), nil
}

func (s *localStore) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, errors.Wrapf(err, "staging: mkdir %s", filepath.Dir(p))
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, errors.Wrapf(err, "staging: create %s", p)
	}
	return f, nil
}

func (s *localStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotExist, "open %s", p)
		}
		return nil, errors.Wrapf(err, "staging: open %s", p)
	}
	return f, nil
}

func (s *localStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == s.root {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "staging: list %s", s.root)
	}
	sort.Strings(out)
	return out, nil
}

func (s *localStore) RemoveAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.root); err != nil {
		return errors.Wrapf(err, "staging: remove %s", s.root)
	}
	return nil
}

func (s *localStore) CheckWritable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return errors.Wrapf(err, "staging: %s is not writable", s.root)
	}
	if err := checkWritable(s.root); err != nil {
		return errors.Wrapf(err, "staging: %s is not writable", s.root)
	}
	return nil
}
