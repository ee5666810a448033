package state

import (
	"crypto/sha256"
	"encoding/base64"
	"sync"

	"github.com/dhcgn/mail-fraud-triage/model"
)

// Tracker remembers which records were already seen in a scan.
type Tracker interface {
	AlreadyProcessed(key string) bool
	MarkProcessed(key, messageID string) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Processed int
}

// Key identifies a record for deduplication by (MessageID, Body).
func Key(m model.Message) string {
	h := sha256.New()
	h.Write([]byte(m.MessageID))
	h.Write([]byte{0})
	h.Write([]byte(m.Body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

type MemoryTracker struct {
	mu        sync.RWMutex
	processed map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{processed: make(map[string]string)}
}

func (m *MemoryTracker) AlreadyProcessed(key string) bool {
	if key == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.processed[key]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkProcessed(key, messageID string) error {
	if key == "" {
		return nil
	}

	m.mu.Lock()
	m.processed[key] = messageID
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.processed)
	m.mu.RUnlock()
	return Snapshot{Processed: count}
}
