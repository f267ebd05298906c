// Package publish writes the cycle artifacts as JSON documents under a destination
// directory and, in production, commits them to the hosted data repository.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/w3c/groups-server/internal/collector"
	"github.com/w3c/groups-server/internal/domain"
	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/logging"
	"github.com/w3c/groups-server/internal/metrics"
)

// Artifact names
const (
	AllRepositories   = "all-repositories.json"
	GroupRepositories = "repositories.json"
	Groups            = "groups.json"
	Identifiers       = "identifiers.json"
)

// indent matches the layout of the files already published
const indent = " "

// Committer writes one file to the hosted data repository
type Committer interface {
	PutFile(ctx context.Context, ref collector.FileRef, message string, content []byte) error
}

// Store persists artifacts. Saves are serialized; reads may run concurrently with a save
// and always see a complete file.
type Store struct {
	dir     string
	remote  Committer
	target  collector.FileRef
	metrics *metrics.Metrics

	mu sync.Mutex
}

// Option configures a Store
type Option func(*Store)

// WithRemote commits every changed artifact to owner/repo on branch before writing it locally
func WithRemote(c Committer, owner, repo, branch string) Option {
	return func(s *Store) {
		s.remote = c
		s.target = collector.FileRef{Owner: owner, Repo: repo, Branch: branch}
	}
}

// WithMetrics counts written and unchanged artifacts
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a store rooted at dir
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes value as indented JSON at relPath unless the file already holds the same
// document. It reports whether anything was written.
func (s *Store) Save(ctx context.Context, relPath string, value any) (bool, error) {
	log := logging.FromContext(ctx)

	full, err := s.resolve(relPath)
	if err != nil {
		return false, err
	}
	data, err := Encode(value)
	if err != nil {
		return false, apperrors.NewInternalError(fmt.Sprintf("encode %s", relPath), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.needsSave(full, data) {
		log.Debug().Str("path", relPath).Msg("no save needed")
		s.metrics.IncArtifact(false)
		return false, nil
	}

	if s.remote != nil {
		ref := s.target
		ref.Path = path.Clean(filepath.ToSlash(relPath))
		if err := s.remote.PutFile(ctx, ref, "Update from upstream "+relPath, data); err != nil {
			return false, fmt.Errorf("commit %s: %w", relPath, err)
		}
	}
	if err := writeFileAtomic(full, data); err != nil {
		return false, apperrors.NewInternalError(fmt.Sprintf("write %s", relPath), err)
	}

	log.Info().Str("path", relPath).Msg("artifact saved")
	s.metrics.IncArtifact(true)
	return true, nil
}

// SaveGroupRepositories writes the group record and its direct and indirect repositories
// under the group identifier. It returns the number of files written.
func (s *Store) SaveGroupRepositories(ctx context.Context, g *domain.Group, direct, indirect []*domain.Repository) (int, error) {
	if direct == nil {
		direct = []*domain.Repository{}
	}
	if indirect == nil {
		indirect = []*domain.Repository{}
	}

	written := 0
	for _, a := range []struct {
		name  string
		value any
	}{
		{"group.json", g},
		{"repositories.json", direct},
		{"others.json", indirect},
	} {
		changed, err := s.Save(ctx, path.Join(g.Identifier, a.name), a.value)
		if err != nil {
			return written, err
		}
		if changed {
			written++
		}
	}
	return written, nil
}

// Read returns the content of a published artifact
func (s *Store) Read(relPath string) ([]byte, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewNotFoundError("artifact " + relPath)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("read "+relPath, err)
	}
	return data, nil
}

// Encode serializes value the way artifacts are published
func Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// needsSave compares the documents after normalizing both, so that key order and
// whitespace do not count as changes
func (s *Store) needsSave(full string, data []byte) bool {
	current, err := os.ReadFile(full)
	if err != nil {
		return true
	}
	a, err := normalize(current)
	if err != nil {
		return true
	}
	b, err := normalize(data)
	if err != nil {
		return true
	}
	return !bytes.Equal(a, b)
}

func normalize(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return Encode(v)
}

// resolve maps a slash separated artifact path into the destination directory
func (s *Store) resolve(relPath string) (string, error) {
	slashed := filepath.ToSlash(relPath)
	clean := path.Clean("/" + slashed)
	if clean == "/" {
		return "", apperrors.NewBadRequestError("invalid artifact path " + relPath)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", apperrors.NewBadRequestError("invalid artifact path " + relPath)
		}
	}
	return filepath.Join(s.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// writeFileAtomic replaces name so that concurrent readers see either the old or the new
// content
func writeFileAtomic(name string, data []byte) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, name); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
