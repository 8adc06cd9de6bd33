// Package spoolstate tracks per-file processed/failed bookkeeping for the
// spool producers, persisted as a small JSON file so a restarted process
// does not re-ingest or re-fail the same snapshot.
package spoolstate

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/greenearth/esingest/internal/logging"
)

// Status is a spooled file's terminal disposition.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusFailed Status = "failed"
)

// Entry is one file's recorded status, persisted as JSON.
type Entry struct {
	Filename string `json:"filename"`
	Status Status `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error string `json:"error,omitempty"`
}

// Manager is the persisted processed/failed ledger a SpoolProducer consults
// before re-queuing a snapshot, and updates once a snapshot's rows have
// drained through the channel.
type Manager struct {
	path string
	mu sync.RWMutex
	state map[string]Entry
	logger logging.Logger
}

// NewManager loads path (if it exists) into a Manager.
func NewManager(path string, logger logging.Logger) (*Manager, error) {
	m := &Manager{path: path, state: make(map[string]Entry), logger: logger}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.logger.Info("spool state file does not exist, starting empty: %s", m.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("esingest/spoolstate: read state file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("esingest/spoolstate: unmarshal state file: %w", err)
	}
	for _, e := range entries {
		m.state[e.Filename] = e
	}
	m.logger.Info("loaded spool state with %d entries", len(m.state))
	return nil
}

// IsProcessed reports whether filename was previously fully processed.
func (m *Manager) IsProcessed(filename string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.state[filename]
	return ok && e.Status == StatusProcessed
}

// IsFailed reports whether filename previously failed (and so is skipped
// rather than retried automatically).
func (m *Manager) IsFailed(filename string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.state[filename]
	return ok && e.Status == StatusFailed
}

// MarkProcessed records filename as processed. Callers MUST only call this
// after the rows queued from filename have been confirmed drained through
// the target channel.
func (m *Manager) MarkProcessed(filename string) error {
	return m.set(Entry{Filename: filename, Status: StatusProcessed, Timestamp: time.Now().UTC()})
}

// MarkFailed records filename as failed with the given reason.
func (m *Manager) MarkFailed(filename, reason string) error {
	return m.set(Entry{Filename: filename, Status: StatusFailed, Timestamp: time.Now().UTC(), Error: reason})
}

func (m *Manager) set(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state[e.Filename] = e

	entries := make([]Entry, 0, len(m.state))
	for _, v := range m.state {
		entries = append(entries, v)
	}
	data, err := json.MarshalIndent(entries, "", " ")
	if err != nil {
		return fmt.Errorf("esingest/spoolstate: marshal state: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("esingest/spoolstate: write state file: %w", err)
	}
	return nil
}
