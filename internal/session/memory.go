package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryConfig bounds per-session turn retention.
type MemoryConfig struct {
	// MaxTurns caps retained turns per session. Default 10.
	MaxTurns int
	// MaxAge evicts turns older than this. Zero disables age eviction.
	MaxAge time.Duration
}

func (c *MemoryConfig) applyDefaults() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 10
	}
}

// Memory holds one session's recent turns in process. Appends are
// serialized by the internal mutex, so concurrent requests on the same
// session cannot interleave turn ordering.
type Memory struct {
	mu    sync.Mutex
	turns []Turn
	cfg   MemoryConfig
	now   func() time.Time
}

// NewMemory creates an empty per-session memory.
func NewMemory(cfg MemoryConfig) *Memory {
	cfg.applyDefaults()
	return &Memory{cfg: cfg, now: time.Now}
}

// Append records a completed turn, evicting the oldest turns beyond
// MaxTurns and anything older than MaxAge.
func (m *Memory) Append(turn Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = m.now()
	}
	turn.SequenceNumber = m.nextSequenceLocked()
	m.turns = append(m.turns, turn)
	m.evictLocked()
}

// Recent returns up to n most recent turns in chronological order.
// n <= 0 returns all retained turns.
func (m *Memory) Recent(n int) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictLocked()

	start := 0
	if n > 0 && len(m.turns) > n {
		start = len(m.turns) - n
	}
	out := make([]Turn, len(m.turns)-start)
	copy(out, m.turns[start:])
	return out
}

// Len returns the number of retained turns.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
	return len(m.turns)
}

func (m *Memory) nextSequenceLocked() int {
	if len(m.turns) == 0 {
		return 1
	}
	return m.turns[len(m.turns)-1].SequenceNumber + 1
}

func (m *Memory) evictLocked() {
	if m.cfg.MaxAge > 0 {
		cutoff := m.now().Add(-m.cfg.MaxAge)
		idx := 0
		for idx < len(m.turns) && m.turns[idx].CreatedAt.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			m.turns = append(m.turns[:0:0], m.turns[idx:]...)
		}
	}
	if excess := len(m.turns) - m.cfg.MaxTurns; excess > 0 {
		m.turns = append(m.turns[:0:0], m.turns[excess:]...)
	}
}

// Manager hands out per-session memories. Sessions are isolated: turns
// appended to one never appear in another.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Memory
	cfg      MemoryConfig
}

// NewManager creates a Manager applying cfg to every session memory.
func NewManager(cfg MemoryConfig) *Manager {
	cfg.applyDefaults()
	return &Manager{
		sessions: make(map[uuid.UUID]*Memory),
		cfg:      cfg,
	}
}

// Get returns the memory for a session, creating it on first use.
func (mgr *Manager) Get(sessionID uuid.UUID) *Memory {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	mem, ok := mgr.sessions[sessionID]
	if !ok {
		mem = NewMemory(mgr.cfg)
		mgr.sessions[sessionID] = mem
	}
	return mem
}

// Drop removes a session's memory entirely.
func (mgr *Manager) Drop(sessionID uuid.UUID) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	delete(mgr.sessions, sessionID)
}
