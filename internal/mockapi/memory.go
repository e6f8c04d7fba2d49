package mockapi

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/gymchat/internal/domain"
)

type storedMessage struct {
	domain.ChatMessage
	archived bool
}

// memory keeps every session's messages in creation order.
type memory struct {
	mu       sync.Mutex
	messages map[string][]storedMessage
	sessions map[string]string // email/personality -> session id
}

func newMemory() *memory {
	return &memory{
		messages: make(map[string][]storedMessage),
		sessions: make(map[string]string),
	}
}

// session returns the id stored under key, creating one with newID when
// missing. created reports whether the id is new.
func (m *memory) session(key string, newID func() string) (id string, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.sessions[key]; ok {
		return id, false
	}
	id = newID()
	m.sessions[key] = id
	return id, true
}

func (m *memory) append(sessionID string, msgs ...domain.ChatMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.messages[sessionID] = append(m.messages[sessionID], storedMessage{ChatMessage: msg})
	}
}

// page returns up to limit live messages starting at the continuation offset.
func (m *memory) page(sessionID string, limit int, continuation string) ([]domain.ChatMessage, string, error) {
	offset, err := parseOffset(continuation)
	if err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var live []domain.ChatMessage
	for _, sm := range m.messages[sessionID] {
		if !sm.archived {
			live = append(live, sm.ChatMessage)
		}
	}
	if offset >= len(live) {
		return []domain.ChatMessage{}, "", nil
	}
	end := min(offset+limit, len(live))
	next := ""
	if end < len(live) {
		next = strconv.Itoa(end)
	}
	return slices.Clone(live[offset:end]), next, nil
}

// archive marks up to limit live messages created strictly inside
// (after, before) as archived. The continuation is non-empty while more
// matching messages remain.
func (m *memory) archive(sessionID string, after, before time.Time, limit int) (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[sessionID]
	updated, remaining := 0, 0
	for i := range msgs {
		ts := msgs[i].Timestamp
		if msgs[i].archived || !ts.After(after) || !ts.Before(before) {
			continue
		}
		if updated < limit {
			msgs[i].archived = true
			updated++
			continue
		}
		remaining++
	}
	if remaining > 0 {
		return updated, strconv.Itoa(remaining)
	}
	return updated, ""
}

func parseOffset(continuation string) (int, error) {
	if continuation == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(continuation)
	if err != nil || n < 0 {
		return 0, errBadContinuation
	}
	return n, nil
}
