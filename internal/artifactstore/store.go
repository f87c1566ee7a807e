// Package artifactstore implements C1: a content-addressed blob store
// for screenshots, PDFs, and captured page HTML, returning stable URIs
// that resolve for the life of a pipeline run. The backend is a plain
// filesystem directory; production deployments can swap in an object
// store behind the same capability.Artifact interface without touching
// callers.
package artifactstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/restaurant-intel/internal/model"
)

// ErrOversizeArtifact is returned when bytes exceed the configured cap.
var ErrOversizeArtifact = eris.New("artifactstore: oversize artifact")

// ErrNotFound is returned when a URI has no corresponding blob.
var ErrNotFound = eris.New("artifactstore: not found")

const defaultMaxObjectBytes = 20 * 1024 * 1024

// kindExt maps a media kind to the file suffix used in the content-
// addressed path.
var kindExt = map[model.MediaKind]string{
	model.MediaImagePNG:  ".png",
	model.MediaImageJPEG: ".jpg",
	model.MediaPDF:       ".pdf",
	model.MediaHTML:      ".html",
}

// FileStore is a filesystem-backed, content-addressed ArtifactStore.
type FileStore struct {
	baseDir      string
	maxObjectSz  int64
	uriPrefix    string
	mu           sync.Mutex
	nowFunc      func() time.Time
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithMaxObjectBytes overrides the default 20 MiB per-object cap.
func WithMaxObjectBytes(n int64) Option {
	return func(s *FileStore) { s.maxObjectSz = n }
}

// WithURIPrefix sets the scheme/host prefix URIs are returned with
// (e.g. for a debug HTTP server resolving artifact:// references).
func WithURIPrefix(prefix string) Option {
	return func(s *FileStore) { s.uriPrefix = prefix }
}

// New creates a FileStore rooted at baseDir, creating it if necessary.
func New(baseDir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "artifactstore: create base dir")
	}
	s := &FileStore{
		baseDir:     baseDir,
		maxObjectSz: defaultMaxObjectBytes,
		uriPrefix:   "artifact://",
		nowFunc:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Put persists bytes under a content-addressed path and returns an
// ArtifactRef. Idempotent: identical bytes always produce the same URI
// and the write is skipped if the blob already exists.
func (s *FileStore) Put(ctx context.Context, data []byte, kind model.MediaKind, hintPath string) (*model.ArtifactRef, error) {
	if int64(len(data)) > s.maxObjectSz {
		return nil, eris.Wrapf(ErrOversizeArtifact, "size=%d cap=%d", len(data), s.maxObjectSz)
	}

	sum := sha256.Sum256(data)
	hash := fmt.Sprintf("%x", sum)
	ext := kindExt[kind]
	rel := filepath.Join(hash[:2], hash[2:]+ext)
	abs := filepath.Join(s.baseDir, rel)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(abs); err != nil {
		if !os.IsNotExist(err) {
			return nil, eris.Wrap(err, "artifactstore: stat")
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, eris.Wrap(err, "artifactstore: mkdir")
		}
		tmp := abs + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return nil, eris.Wrap(err, "artifactstore: write")
		}
		if err := os.Rename(tmp, abs); err != nil {
			return nil, eris.Wrap(err, "artifactstore: rename")
		}
	}

	return &model.ArtifactRef{
		URI:         s.uriPrefix + rel,
		MediaKind:   kind,
		SourceURL:   hintPath,
		ContentHash: hash,
		SizeBytes:   int64(len(data)),
		CapturedAt:  s.nowFunc(),
	}, nil
}

// Get reads back the bytes for uri.
func (s *FileStore) Get(ctx context.Context, uri string) ([]byte, error) {
	rel, err := s.relPath(uri)
	if err != nil {
		return nil, err
	}
	abs := filepath.Join(s.baseDir, rel)
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrNotFound, "uri=%s", uri)
		}
		return nil, eris.Wrap(err, "artifactstore: read")
	}
	return data, nil
}

func (s *FileStore) relPath(uri string) (string, error) {
	if len(uri) <= len(s.uriPrefix) || uri[:len(s.uriPrefix)] != s.uriPrefix {
		return "", eris.Wrapf(ErrNotFound, "uri=%s missing prefix %s", uri, s.uriPrefix)
	}
	return uri[len(s.uriPrefix):], nil
}
