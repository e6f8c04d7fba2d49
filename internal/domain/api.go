package domain

import "time"

// ScreeningType is the classification returned by the screening endpoint.
type ScreeningType string

const (
	ScreeningGreeting ScreeningType = "Greeting"
	ScreeningOnTopic  ScreeningType = "OnTopic"
	ScreeningOffTopic ScreeningType = "OffTopic"
)

// ScreeningRequest is the body of a screening call.
type ScreeningRequest struct {
	Personality    Personality    `json:"personality"`
	SessionSummary SessionSummary `json:"sessionSummary"`
	Input          string         `json:"input"`
	BenefitOfDoubt bool           `json:"benefitOfDoubt,omitempty"`
}

// ScreeningResponse carries the screening classification.
type ScreeningResponse struct {
	Type ScreeningType `json:"type"`
}

// ChatRequest is the body of a streaming chat call.
type ChatRequest struct {
	Personality    Personality    `json:"personality"`
	SessionSummary SessionSummary `json:"sessionSummary"`
	Input          string         `json:"input"`
	History        []ChatMessage  `json:"history"`
	BenefitOfDoubt bool           `json:"benefitOfDoubt,omitempty"`
}

// SummarizeRequest asks the backend to condense messages into one summary message.
type SummarizeRequest struct {
	ModelProvider string        `json:"modelProvider"`
	SessionID     string        `json:"sessionId"`
	Messages      []ChatMessage `json:"messages"`
	WordCount     int           `json:"wordCount"`
}

// SummarizeResponse holds the produced summary.
type SummarizeResponse struct {
	Summary *ChatMessage `json:"summary"`
}

// ArchiveRequest commits one page of messages in the (CreatedAfter, CreatedBefore)
// window to the archive.
type ArchiveRequest struct {
	SessionID     string    `json:"sessionId"`
	CreatedAfter  time.Time `json:"createdAfter"`
	CreatedBefore time.Time `json:"createdBefore"`
	Limit         int       `json:"limit"`
	Continuation  string    `json:"continuation,omitempty"`
}

// ArchiveResponse reports how many messages the page archived.
type ArchiveResponse struct {
	UpdatedCount int    `json:"updatedCount"`
	Continuation string `json:"continuation,omitempty"`
}

// MessagesRequest fetches one page of chat history.
type MessagesRequest struct {
	SessionSummary SessionSummary `json:"sessionSummary"`
	Limit          int            `json:"limit"`
	Continuation   string         `json:"continuation,omitempty"`
}

// MessagesResponse is one page of chat history.
type MessagesResponse struct {
	Records      []ChatMessage `json:"records"`
	Continuation string        `json:"continuation,omitempty"`
}

// SessionRequest opens (or resumes) a backend session.
type SessionRequest struct {
	UserDetails UserDetails `json:"userDetails"`
	Personality Personality `json:"personality"`
}

// SessionResponse describes the opened session.
type SessionResponse struct {
	SessionID              string `json:"sessionId"`
	Role                   string `json:"role"`
	ShowInterstitialPrompt bool   `json:"showInterstitialPrompt"`
}

// CaptchaRequest submits a captcha token for verification.
type CaptchaRequest struct {
	Token  string `json:"token"`
	Action string `json:"action"`
}

// CaptchaResponse is the captcha verdict.
type CaptchaResponse struct {
	IsValid         bool    `json:"isValid"`
	PassedThreshold bool    `json:"passedThreshold"`
	Score           float64 `json:"score"`
}
