// Package archive bounds the live conversation by summarizing its older half
// and committing those messages to the backend archive.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/gymchat/internal/apiclient"
	"github.com/ashureev/gymchat/internal/domain"
	"github.com/ashureev/gymchat/internal/uistate"
)

const (
	// DefaultMaxMessages triggers archival when the history grows beyond it.
	DefaultMaxMessages = 100
	// DefaultMaxTokens triggers archival when the flat history text exceeds it.
	DefaultMaxTokens = 14336
)

var (
	// ErrSummarize marks a failed or empty summarize call.
	ErrSummarize = errors.New("summarize failed")
	// ErrCommit marks a failed archive-commit page.
	ErrCommit = errors.New("archive commit failed")
)

// Thresholds decide when a history is large enough to archive.
type Thresholds struct {
	MaxMessages int
	MaxTokens   int
}

// DefaultThresholds returns the default trigger thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxMessages: DefaultMaxMessages, MaxTokens: DefaultMaxTokens}
}

// ShouldArchive reports whether messages exceed the message-count or token
// thresholds. It has no side effects.
func (t Thresholds) ShouldArchive(messages []domain.ChatMessage, counter TokenCounter) bool {
	if len(messages) == 0 {
		return false
	}
	if len(messages) > t.MaxMessages {
		return true
	}
	return counter.CountTokens(domain.FlatText(messages)) > t.MaxTokens
}

// ShouldArchive applies DefaultThresholds.
func ShouldArchive(messages []domain.ChatMessage, counter TokenCounter) bool {
	return DefaultThresholds().ShouldArchive(messages, counter)
}

// Config holds archiver configuration.
type Config struct {
	ArchiveURL    string
	SummarizeURL  string
	ModelProvider string
	WordCount     int
	PageLimit     int
	Thresholds    Thresholds
}

// Archiver runs the summarize-and-archive protocol.
type Archiver struct {
	client  *apiclient.Client
	counter TokenCounter
	cfg     Config
	logger  *slog.Logger
}

// NewArchiver creates an archiver. A nil counter falls back to HeuristicCounter.
func NewArchiver(client *apiclient.Client, counter TokenCounter, cfg Config, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	if counter == nil {
		counter = HeuristicCounter{}
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 50
	}
	return &Archiver{
		client:  client,
		counter: counter,
		cfg:     cfg,
		logger:  logger,
	}
}

// ShouldArchive applies the configured thresholds.
func (a *Archiver) ShouldArchive(messages []domain.ChatMessage) bool {
	return a.cfg.Thresholds.ShouldArchive(messages, a.counter)
}

// Archive summarizes and archives the older half of messages and returns the
// summary followed by the recent half. On any failure it emits Error and
// returns messages unchanged together with the cause. The input slice is
// never modified.
func (a *Archiver) Archive(ctx context.Context, sessionID string, messages []domain.ChatMessage, state uistate.Transitioner) ([]domain.ChatMessage, error) {
	if len(messages) == 0 {
		return messages, nil
	}
	split, ok := ComputeSplit(messages)
	if !ok {
		a.logger.Info("No split point, skipping archive", "session_id", sessionID, "messages", len(messages))
		return messages, nil
	}

	if err := state.Transition(uistate.StartedArchiving); err != nil {
		return messages, err
	}

	summary, err := a.summarize(ctx, sessionID, split.OlderMessages)
	if err != nil {
		return messages, a.fail(state, sessionID, err)
	}

	committed, err := a.commit(ctx, sessionID, split)
	if err != nil {
		return messages, a.fail(state, sessionID, err)
	}

	result := make([]domain.ChatMessage, 0, len(split.RecentMessages)+1)
	result = append(result, *summary)
	result = append(result, split.RecentMessages...)

	a.logger.Info("Archived messages",
		"session_id", sessionID,
		"archived", len(split.OlderMessages),
		"committed", committed,
		"kept", len(split.RecentMessages),
	)
	if err := state.Transition(uistate.FinishedArchiving); err != nil {
		return result, err
	}
	return result, nil
}

func (a *Archiver) summarize(ctx context.Context, sessionID string, older []domain.ChatMessage) (*domain.ChatMessage, error) {
	resp, err := apiclient.Post[domain.SummarizeResponse](ctx, a.client, a.cfg.SummarizeURL, domain.SummarizeRequest{
		ModelProvider: a.cfg.ModelProvider,
		SessionID:     sessionID,
		Messages:      older,
		WordCount:     a.cfg.WordCount,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSummarize, err)
	}
	if resp.Data.Summary == nil {
		return nil, fmt.Errorf("%w: empty summary", ErrSummarize)
	}
	return resp.Data.Summary, nil
}

// commit pages through the archive endpoint until no continuation remains.
func (a *Archiver) commit(ctx context.Context, sessionID string, split Split) (int, error) {
	total := 0
	continuation := ""
	for {
		resp, err := apiclient.Post[domain.ArchiveResponse](ctx, a.client, a.cfg.ArchiveURL, domain.ArchiveRequest{
			SessionID:     sessionID,
			CreatedAfter:  split.FirstMessageTime,
			CreatedBefore: split.MidPointTime,
			Limit:         a.cfg.PageLimit,
			Continuation:  continuation,
		})
		if err != nil {
			return total, fmt.Errorf("%w after %d messages: %w", ErrCommit, total, err)
		}
		total += resp.Data.UpdatedCount
		a.logger.Debug("Archive page committed", "session_id", sessionID, "updated", resp.Data.UpdatedCount, "total", total)
		if resp.Data.Continuation == "" {
			return total, nil
		}
		continuation = resp.Data.Continuation
	}
}

func (a *Archiver) fail(state uistate.Transitioner, sessionID string, cause error) error {
	a.logger.Error("Archive failed, keeping history", "session_id", sessionID, "error", apiclient.Sanitize(cause.Error()))
	if err := state.Transition(uistate.Errored); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
