// Package accounts keeps a queryable snapshot of the account state the
// gateway streams over a session.
package accounts

import (
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Update is one change to the snapshot, fanned out to every listener.
type Update struct {
	Path  string
	Value []byte
}

// Snapshot is an in-memory JSON document of account values, addressed by
// dotted paths like "DU12345.NetLiquidation.value".
type Snapshot struct {
	mu     sync.Mutex
	values []byte

	updateChans []chan *Update

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		values:      []byte(""),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (s *Snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning() {
		close(s.stop)
	}

	for _, updateChan := range s.updateChans {
		close(updateChan)
	}

	s.updateChans = nil

	return nil
}

// Set writes one path and notifies every listener.
func (s *Snapshot) Set(path string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := sjson.SetBytes(s.values, path, value)
	if err != nil {
		return err
	}

	s.values = values

	if s.isRunning() {
		for _, updateChan := range s.updateChans {
			updateChan <- &Update{
				Path:  path,
				Value: []byte(gjson.GetBytes(s.values, path).Raw),
			}
		}
	}

	return nil
}

// Get returns the raw JSON at a path, or "" when the path is unset.
func (s *Snapshot) Get(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return gjson.GetBytes(s.values, path).Raw
}

// ListenToUpdates returns a channel that receives every subsequent change.
// The channel is closed by Close().
func (s *Snapshot) ListenToUpdates() <-chan *Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	updateChan := make(chan *Update, 255)
	s.updateChans = append(s.updateChans, updateChan)

	return updateChan
}

// Restore replaces the whole snapshot document.
func (s *Snapshot) Restore(values []byte) error {
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()

	return nil
}

// Dump returns the whole snapshot document as JSON.
func (s *Snapshot) Dump() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.values) == 0 {
		return []byte("{}")
	}

	return s.values
}

// isRunning returns true if Close has not been called. Callers must hold mu.
func (s *Snapshot) isRunning() bool {
	select {
	case <-s.stop:
		return false

	default:
		return true
	}
}
