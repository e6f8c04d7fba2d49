package domain

import "time"

// Personality names an assistant persona configuration.
type Personality string

// DefaultPersonality is the persona used when none is configured.
const DefaultPersonality Personality = "GymBuddy"

// SessionSummary identifies a conversation to the backend in place of a full
// user object.
type SessionSummary struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
}

// SessionRecord is the locally persisted form of a backend session.
type SessionRecord struct {
	SessionID              string
	Email                  string
	Personality            Personality
	Role                   string
	ShowInterstitialPrompt bool
	CreatedAt              time.Time
	LastSeenAt             time.Time
}

// Summary returns the identifier bundle used in API requests.
func (r *SessionRecord) Summary() SessionSummary {
	return SessionSummary{SessionID: r.SessionID, Email: r.Email}
}
