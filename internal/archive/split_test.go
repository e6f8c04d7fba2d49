package archive

import (
	"testing"
	"time"

	"github.com/ashureev/gymchat/internal/domain"
)

// conversation builds messages from a role pattern such as "uaua", one second apart.
func conversation(pattern string) []domain.ChatMessage {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := make([]domain.ChatMessage, len(pattern))
	for i, r := range pattern {
		role := domain.RoleAssistant
		if r == 'u' {
			role = domain.RoleUser
		}
		msgs[i] = domain.ChatMessage{
			ID:        string(rune('a' + i)),
			Role:      role,
			Content:   "message",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
	}
	return msgs
}

func TestComputeSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		wantMid int
		wantOK  bool
	}{
		{name: "empty", pattern: "", wantOK: false},
		{name: "single user message", pattern: "u", wantOK: false},
		{name: "one exchange", pattern: "ua", wantOK: false},
		{name: "only assistant messages", pattern: "aaaa", wantOK: false},
		{name: "two exchanges", pattern: "uaua", wantMid: 2, wantOK: true},
		{name: "odd length", pattern: "uau", wantMid: 2, wantOK: true},
		{name: "forward scan", pattern: "uaaaua", wantMid: 4, wantOK: true},
		{name: "backward fallback", pattern: "uuuaa", wantMid: 2, wantOK: true},
		{name: "long alternating", pattern: "uauauauaua", wantMid: 6, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msgs := conversation(tt.pattern)
			split, ok := ComputeSplit(msgs)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if split.MidPointIndex != tt.wantMid {
				t.Fatalf("mid = %d, want %d", split.MidPointIndex, tt.wantMid)
			}
			if !msgs[split.MidPointIndex].IsUser() {
				t.Fatal("split must land on a user message")
			}
			if len(split.OlderMessages)+len(split.RecentMessages) != len(msgs) {
				t.Fatalf("halves lost messages: %d + %d", len(split.OlderMessages), len(split.RecentMessages))
			}
			if !split.MidPointTime.Equal(msgs[tt.wantMid].Timestamp) {
				t.Fatalf("mid time = %s", split.MidPointTime)
			}
			if want := msgs[0].Timestamp.Add(-time.Millisecond); !split.FirstMessageTime.Equal(want) {
				t.Fatalf("first time = %s, want %s", split.FirstMessageTime, want)
			}
		})
	}
}
