package archive

import (
	"time"

	"github.com/ashureev/gymchat/internal/domain"
)

// Split divides a history into the older half that gets archived and the
// recent half that stays live.
type Split struct {
	// FirstMessageTime is one millisecond before the first message, an
	// exclusive lower bound for the archive query.
	FirstMessageTime time.Time
	MidPointIndex    int
	MidPointTime     time.Time
	RecentMessages   []domain.ChatMessage
	OlderMessages    []domain.ChatMessage
}

// ComputeSplit splits messages at a user-authored message near the middle so
// no assistant answer is separated from its question. ok is false when no
// split index above zero exists.
func ComputeSplit(messages []domain.ChatMessage) (Split, bool) {
	if len(messages) == 0 {
		return Split{}, false
	}
	mid := midpoint(messages)
	if mid <= 0 {
		return Split{}, false
	}
	return Split{
		FirstMessageTime: messages[0].Timestamp.Add(-time.Millisecond),
		MidPointIndex:    mid,
		MidPointTime:     messages[mid].Timestamp,
		RecentMessages:   messages[mid:],
		OlderMessages:    messages[:mid],
	}, true
}

// midpoint starts at ceil(n/2) rounded up to an even offset and scans forward
// to the next user message, then falls back to scanning backward from ceil(n/2).
func midpoint(messages []domain.ChatMessage) int {
	n := len(messages)
	half := (n + 1) / 2
	start := half
	if start%2 == 1 {
		start++
	}
	for i := start; i < n; i++ {
		if messages[i].IsUser() {
			return i
		}
	}
	for i := min(half, n-1); i >= 0; i-- {
		if messages[i].IsUser() {
			return i
		}
	}
	return 0
}
