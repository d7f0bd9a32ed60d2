// Package staging implements the scratch storage used for bulk transfers
// between the warehouse and the dataframe engine.
//
// A staging location is a URL. Two kinds are supported:
//
//	file:///var/tmp/residuals/tmp/natality-...   local filesystem (a bare path works too)
//	s3://bucket/tmp/natality-...?region=eu-west-1 Amazon S3 (or any S3-compatible endpoint)
//
// Data is written as Avro object container files ("shards") plus a JSON
// manifest that lists every shard with its row count and xxh3 checksum. The
// manifest is always written last; a location without one is incomplete.
package staging

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNotExist is returned when a staging object is missing.
	ErrNotExist = errors.New("staging: object does not exist")
	// ErrManifestNotFound is returned by ReadManifest for incomplete locations.
	ErrManifestNotFound = errors.New("staging: manifest not found")
	// ErrChecksumMismatch is returned when a shard's content does not match
	// the checksum recorded in the manifest.
	ErrChecksumMismatch = errors.New("staging: checksum mismatch")
)

// Store is a flat object namespace rooted at one staging location. Names are
// slash-separated and relative to the root.
type Store interface {
	// URL returns the location the store is rooted at.
	URL() string
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns the names under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// RemoveAll deletes every object under the root.
	RemoveAll(ctx context.Context) error
	// CheckWritable fails when objects cannot be created at the root.
	CheckWritable(ctx context.Context) error
}

// Location is a parsed staging URL.
type Location struct {
	Scheme string // "file" or "s3"
	Bucket string // s3 bucket; empty for file
	Path   string // directory (file) or key prefix (s3), without trailing slash
	Query  url.Values
}

// ParseLocation parses a staging URL. A value without a scheme is a local
// path.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, errors.New("staging: empty location")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: "file", Path: strings.TrimSuffix(raw, "/")}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, errors.Wrapf(err, "staging: parse location %q", raw)
	}
	switch u.Scheme {
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			p = "/" + u.Host + u.Path
		}
		if p == "" {
			return Location{}, errors.Errorf("staging: %q has no path", raw)
		}
		return Location{Scheme: "file", Path: strings.TrimSuffix(p, "/"), Query: u.Query()}, nil
	case "s3":
		if u.Host == "" {
			return Location{}, errors.Errorf("staging: %q has no bucket", raw)
		}
		return Location{
			Scheme: "s3",
			Bucket: u.Host,
			Path:   strings.Trim(u.Path, "/"),
			Query:  u.Query(),
		}, nil
	default:
		return Location{}, errors.Errorf("staging: unsupported scheme %q", u.Scheme)
	}
}

// Join returns a copy of l with elem appended to its path.
func (l Location) Join(elem ...string) Location {
	out := l
	parts := append([]string{l.Path}, elem...)
	out.Path = path.Join(parts...)
	if l.Scheme == "s3" {
		out.Path = strings.TrimPrefix(out.Path, "/")
	}
	return out
}

func (l Location) String() string {
	switch l.Scheme {
	case "s3":
		u := url.URL{Scheme: "s3", Host: l.Bucket, Path: "/" + l.Path}
		if len(l.Query) > 0 {
			u.RawQuery = l.Query.Encode()
		}
		return u.String()
	default:
		return "file://" + l.Path
	}
}

// Open returns the Store for l.
func Open(ctx context.Context, l Location) (Store, error) {
	switch l.Scheme {
	case "file":
		return newLocalStore(l), nil
	case "s3":
		return newS3Store(ctx, l)
	default:
		return nil, errors.Errorf("staging: unsupported scheme %q", l.Scheme)
	}
}

// cleanName rejects names that would escape the store root.
func cleanName(name string) (string, error) {
	c := path.Clean("/" + name)
	if c == "/" || strings.Contains(name, "..") {
		return "", errors.Errorf("staging: invalid object name %q", name)
	}
	return strings.TrimPrefix(c, "/"), nil
}
