package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/lessongate/internal/models"
	"github.com/wolfeidau/lessongate/internal/store"
)

const sessionFile = "session.json"

// ErrCorruptSession is returned when the session file cannot be parsed.
var ErrCorruptSession = errors.New("corrupt session file")

// Store keeps the credential record in a JSON file on the local filesystem.
type Store struct {
	baseDir string
}

var _ store.CredentialStore = (*Store)(nil)

// DefaultDir returns ~/.lessongate.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".lessongate"), nil
}

// NewStore creates a new credential store.
// If baseDir is empty, uses ~/.lessongate/
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	log.Debug().Str("base_dir", baseDir).Msg("credential store initialized")

	return &Store{baseDir: baseDir}, nil
}

// Path returns the location of the session file.
func (s *Store) Path() string {
	return filepath.Join(s.baseDir, sessionFile)
}

// Read loads the credential record. A missing file yields an empty record.
func (s *Store) Read() (*models.CredentialRecord, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &models.CredentialRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var record models.CredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}

	return &record, nil
}

// Write replaces the credential record atomically.
func (s *Store) Write(record *models.CredentialRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Write to temp file first
	path := s.Path()
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save session: %w", err)
	}

	log.Debug().Str("path", path).Bool("granted", record.Granted).Msg("session saved")

	return nil
}

// Clear removes the session file, dropping every field at once.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}

	log.Debug().Str("path", s.Path()).Msg("session cleared")

	return nil
}
