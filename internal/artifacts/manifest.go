package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"time"
)

// ManifestFile is the bookkeeping file kept next to the artifacts.
const ManifestFile = "manifest.json"

// ManifestEntry records who wrote an artifact and what it looked like.
type ManifestEntry struct {
	Name      string    `json:"name"`
	Step      string    `json:"step"`
	RunID     string    `json:"run_id"`
	Bytes     int64     `json:"bytes"`
	SHA256    string    `json:"sha256"`
	WrittenAt time.Time `json:"written_at"`
}

// Manifest indexes the artifacts of a directory by name.
type Manifest struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Entries     map[string]ManifestEntry `json:"entries"`
}

// Names returns the recorded artifact names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Entries))
	for name := range m.Entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LoadManifest reads the manifest; a missing file yields an empty one.
func (s *Store) LoadManifest() (*Manifest, error) {
	data, err := os.ReadFile(s.Path(ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &Manifest{Entries: map[string]ManifestEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = map[string]ManifestEntry{}
	}
	return &m, nil
}

// Record fingerprints the named artifacts and stores them in the manifest
// as written by step. Names that do not exist are ignored.
func (s *Store) Record(step, runID string, names ...string) error {
	m, err := s.LoadManifest()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, name := range names {
		if !s.Exists(name) {
			continue
		}
		sum, size, err := s.Checksum(name)
		if err != nil {
			return err
		}
		m.Entries[name] = ManifestEntry{Name: name, Step: step, RunID: runID, Bytes: size, SHA256: sum, WrittenAt: now}
	}
	m.GeneratedAt = now
	return s.saveManifest(m)
}

// Checksum returns the hex SHA-256 and size of an artifact.
func (s *Store) Checksum(name string) (string, int64, error) {
	f, err := os.Open(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", 0, fmt.Errorf("%w: %s", ErrMissing, name)
	}
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// saveManifest writes through a temp file and keeps the previous version
// as a backup.
func (s *Store) saveManifest(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	final := s.Path(ManifestFile)
	if s.Exists(ManifestFile) {
		if prev, err := os.ReadFile(final); err == nil {
			if err := os.WriteFile(final+".backup", prev, 0o644); err != nil {
				return fmt.Errorf("failed to back up manifest: %w", err)
			}
		}
	}
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to move manifest into place: %w", err)
	}
	return nil
}
