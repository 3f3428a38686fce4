package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probo/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// Submission is the persisted record of one queue-mode launch for a test
// directory. A later submission pass finds it and does not launch again;
// the cleanup pass reads its artifact paths.
type Submission struct {
	ID        string `badgerhold:"key"`
	TestDir   string `badgerhold:"index"`
	Plugin    string
	Slots     int
	MaxTime   float64
	Artifacts []string
	CreatedAt time.Time
}

// SessionStore persists queue-mode submission state between invocations of
// the harness. The reap pass reads the results file and does not consult it.
type SessionStore struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// OpenSessionStore opens (or creates) the Badger-backed session store
func OpenSessionStore(logger arbor.ILogger, config *common.BadgerConfig) (*SessionStore, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Session store initialized")

	return &SessionStore{store: store, logger: logger}, nil
}

// Close closes the database connection
func (s *SessionStore) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// SaveSubmission upserts a submission record
func (s *SessionStore) SaveSubmission(sub *Submission) error {
	if sub.ID == "" {
		return fmt.Errorf("submission ID is required")
	}
	if err := s.store.Upsert(sub.ID, sub); err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}

// FindSubmission returns the submission recorded for a test directory and
// plugin, or nil when none exists
func (s *SessionStore) FindSubmission(testDir, plugin string) (*Submission, error) {
	var subs []Submission
	query := badgerhold.Where("TestDir").Eq(testDir).And("Plugin").Eq(plugin)
	if err := s.store.Find(&subs, query); err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}

// DeleteSubmission removes the record for a test directory and plugin
func (s *SessionStore) DeleteSubmission(testDir, plugin string) error {
	query := badgerhold.Where("TestDir").Eq(testDir).And("Plugin").Eq(plugin)
	if err := s.store.DeleteMatching(&Submission{}, query); err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	return nil
}

// ListSubmissions returns every recorded submission
func (s *SessionStore) ListSubmissions() ([]Submission, error) {
	var subs []Submission
	if err := s.store.Find(&subs, nil); err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}
