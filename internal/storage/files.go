package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"scratch-registry/internal/catalog"
)

// ErrCorruptState is returned in strict mode when a persisted file cannot be parsed.
var ErrCorruptState = errors.New("storage: corrupt persisted state")

// RegistryStore loads and replaces the persisted registry.
type RegistryStore interface {
	LoadRegistry(ctx context.Context) (catalog.Registry, error)
	SaveRegistry(ctx context.Context, reg catalog.Registry) error
}

// PulseStore loads and replaces the persisted pulse history.
type PulseStore interface {
	LoadPulse(ctx context.Context) ([]PulseSample, error)
	SavePulse(ctx context.Context, samples []PulseSample) error
}

// FingerprintStore keeps the fingerprint of the last archived registry.
type FingerprintStore interface {
	LoadFingerprint(ctx context.Context) (string, error)
	SaveFingerprint(ctx context.Context, fingerprint string) error
}

// FileOptions locate the state files.
type FileOptions struct {
	Dir             string
	RegistryFile    string
	PulseFile       string
	FingerprintFile string
	Strict          bool
}

// FileStore persists state as whole JSON files replaced atomically.
type FileStore struct {
	opts   FileOptions
	logger zerolog.Logger
	now    func() time.Time
}

// NewFileStore prepares the state directory.
func NewFileStore(opts FileOptions, logger zerolog.Logger) (*FileStore, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.RegistryFile == "" {
		opts.RegistryFile = "registry.json"
	}
	if opts.PulseFile == "" {
		opts.PulseFile = "pulse_history.json"
	}
	if opts.FingerprintFile == "" {
		opts.FingerprintFile = ".last_registry_hash"
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{
		opts:   opts,
		logger: logger.With().Str("component", "file_store").Logger(),
		now:    time.Now,
	}, nil
}

// RegistryPath is the location of the registry file.
func (s *FileStore) RegistryPath() string {
	return filepath.Join(s.opts.Dir, s.opts.RegistryFile)
}

// PulsePath is the location of the pulse history file.
func (s *FileStore) PulsePath() string {
	return filepath.Join(s.opts.Dir, s.opts.PulseFile)
}

func (s *FileStore) fingerprintPath() string {
	return filepath.Join(s.opts.Dir, s.opts.FingerprintFile)
}

// LoadRegistry reads the registry. A missing file yields an empty registry.
func (s *FileStore) LoadRegistry(ctx context.Context) (catalog.Registry, error) {
	var reg catalog.Registry
	found, err := s.readJSON(s.RegistryPath(), &reg)
	if err != nil {
		return nil, err
	}
	if !found || reg == nil {
		reg = catalog.Registry{}
	}
	return reg, nil
}

// SaveRegistry replaces the registry file.
func (s *FileStore) SaveRegistry(ctx context.Context, reg catalog.Registry) error {
	if reg == nil {
		reg = catalog.Registry{}
	}
	return s.writeJSON(s.RegistryPath(), reg)
}

// LoadPulse reads the pulse history. A missing file yields an empty history.
func (s *FileStore) LoadPulse(ctx context.Context) ([]PulseSample, error) {
	var samples []PulseSample
	found, err := s.readJSON(s.PulsePath(), &samples)
	if err != nil {
		return nil, err
	}
	if !found || samples == nil {
		samples = []PulseSample{}
	}
	return samples, nil
}

// SavePulse replaces the pulse history file.
func (s *FileStore) SavePulse(ctx context.Context, samples []PulseSample) error {
	if samples == nil {
		samples = []PulseSample{}
	}
	return s.writeJSON(s.PulsePath(), samples)
}

// LoadFingerprint returns the cached fingerprint, or "" if none was saved.
func (s *FileStore) LoadFingerprint(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.fingerprintPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read fingerprint: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveFingerprint replaces the cached fingerprint.
func (s *FileStore) SaveFingerprint(ctx context.Context, fingerprint string) error {
	return WriteFileAtomic(s.fingerprintPath(), []byte(fingerprint))
}

// readJSON decodes path into dst and reports whether dst holds usable data.
func (s *FileStore) readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, s.handleCorrupt(path, err)
	}
	return true, nil
}

// handleCorrupt either fails (strict) or moves the file aside and reports an
// empty state.
func (s *FileStore) handleCorrupt(path string, cause error) error {
	if s.opts.Strict {
		return fmt.Errorf("%w: %s: %v", ErrCorruptState, filepath.Base(path), cause)
	}

	quarantine := fmt.Sprintf("%s.corrupt-%d", path, s.now().Unix())
	if err := os.Rename(path, quarantine); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("failed to quarantine corrupt state file")
	}
	s.logger.Error().Err(cause).
		Str("path", path).
		Str("quarantine", quarantine).
		Msg("corrupt state file; continuing from empty state")
	return nil
}

func (s *FileStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes to a temp file in the same directory and renames it
// over the target so readers never see a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

var (
	_ RegistryStore    = (*FileStore)(nil)
	_ PulseStore       = (*FileStore)(nil)
	_ FingerprintStore = (*FileStore)(nil)
)
