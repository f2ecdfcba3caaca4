package synthesis

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// ErrArtifactNotFound is returned for unknown or unsafe artifact names
var ErrArtifactNotFound = errors.New("artifact not found")

var artifactName = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[a-z0-9]+$`)

// ArtifactStore keeps finished audio files in a single flat directory.
type ArtifactStore struct {
	dir string
	now func() time.Time
}

// NewArtifactStore creates the directory if needed
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &ArtifactStore{dir: dir, now: time.Now}, nil
}

// Dir returns the output directory
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Save writes data under a fresh name "<unix>_<random>.<ext>" and returns the name and size
func (s *ArtifactStore) Save(data []byte, ext string) (string, int64, error) {
	if len(data) == 0 {
		return "", 0, ErrEmptyAudio
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", 0, fmt.Errorf("failed to generate artifact name: %w", err)
	}
	name := fmt.Sprintf("%d_%s.%s", s.now().Unix(), hex.EncodeToString(suffix), ext)

	tmp, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to store artifact: %w", err)
	}

	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat artifact: %w", err)
	}
	if info.Size() == 0 {
		s.Remove(name)
		return "", 0, ErrEmptyAudio
	}

	return name, info.Size(), nil
}

// Path resolves name inside the store. Names with separators or dot segments are rejected.
func (s *ArtifactStore) Path(name string) (string, error) {
	if !artifactName.MatchString(name) || filepath.Base(name) != name {
		return "", ErrArtifactNotFound
	}
	return filepath.Join(s.dir, name), nil
}

// Open returns the artifact file for reading
func (s *ArtifactStore) Open(name string) (*os.File, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrArtifactNotFound
		}
		return nil, err
	}
	return f, nil
}

// Remove deletes an artifact, ignoring names that do not exist
func (s *ArtifactStore) Remove(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
