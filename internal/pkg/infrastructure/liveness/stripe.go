package liveness

import (
	"sync"
	"time"

	"github.com/diwise/iot-telemetry/pkg/types"
)

type entry struct {
	status    string
	lastSeen  time.Time
	version   uint64
	expiresAt time.Time
}

type stripe struct {
	mu      sync.RWMutex
	entries map[int64]entry
}

func newStripe() *stripe {
	return &stripe{entries: map[int64]entry{}}
}

func (s *stripe) get(deviceID int64) (types.LivenessRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[deviceID]
	if !ok || time.Now().After(e.expiresAt) {
		return types.LivenessRecord{}, false
	}

	return types.LivenessRecord{Status: e.status, LastSeen: e.lastSeen, Version: e.version}, true
}

// merge applies last-seen-wins conflict resolution: an incoming write
// only replaces the entry when its timestamp is newer, or equal with
// a bumped version.
func (s *stripe) merge(deviceID int64, status string, ts time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[deviceID]
	if ok && ts.Before(e.lastSeen) {
		// stale write, keep the freshest observation but extend the ttl
		e.expiresAt = time.Now().Add(ttl)
		s.entries[deviceID] = e
		return
	}

	s.entries[deviceID] = entry{
		status:    status,
		lastSeen:  ts,
		version:   e.version + 1,
		expiresAt: time.Now().Add(ttl),
	}
}

func (s *stripe) setStatus(deviceID int64, status string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[deviceID]
	e.status = status
	e.version++
	e.expiresAt = time.Now().Add(ttl)
	s.entries[deviceID] = e
}

func (s *stripe) clear(deviceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, deviceID)
}

func (s *stripe) clearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[int64]entry{}
}
