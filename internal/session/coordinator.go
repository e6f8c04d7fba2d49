package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/gymchat/internal/apiclient"
	"github.com/ashureev/gymchat/internal/archive"
	"github.com/ashureev/gymchat/internal/chat"
	"github.com/ashureev/gymchat/internal/domain"
	"github.com/ashureev/gymchat/internal/uistate"
)

var (
	// ErrBusy is returned when a turn or an archive run is already in flight.
	ErrBusy = errors.New("conversation is busy")
	// ErrEmptyInput is returned for blank user input.
	ErrEmptyInput = errors.New("empty input")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator closed")
)

// Config holds coordinator settings.
type Config struct {
	MessagesURL      string
	HistoryPageLimit int
	PollInterval     time.Duration
	IdleBefore       time.Duration
}

// Coordinator owns one conversation: its state machine, its message list and
// the protocols that change them. Turns and archive runs never overlap.
type Coordinator struct {
	client   *apiclient.Client
	orch     *chat.Orchestrator
	archiver *archive.Archiver
	record   domain.SessionRecord
	cfg      Config
	machine  *uistate.Machine
	logger   *slog.Logger
	now      func() time.Time

	run sync.Mutex // held for the duration of a turn or archive run

	mu           sync.Mutex
	messages     []domain.ChatMessage
	pending      strings.Builder
	lastActivity time.Time
	cancel       context.CancelFunc
	closed       bool
}

// NewCoordinator creates a coordinator in the Waiting state with an empty
// message list.
func NewCoordinator(client *apiclient.Client, orch *chat.Orchestrator, archiver *archive.Archiver, record domain.SessionRecord, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryPageLimit <= 0 {
		cfg.HistoryPageLimit = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &Coordinator{
		client:       client,
		orch:         orch,
		archiver:     archiver,
		record:       record,
		cfg:          cfg,
		machine:      uistate.NewMachine(uistate.Waiting),
		logger:       logger.With("session_id", record.SessionID),
		now:          time.Now,
		lastActivity: time.Now(),
	}
}

// Session returns the session record the coordinator was created with.
func (c *Coordinator) Session() domain.SessionRecord {
	return c.record
}

// State returns the current UI state.
func (c *Coordinator) State() uistate.State {
	return c.machine.State()
}

// Messages returns a copy of the live message list.
func (c *Coordinator) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Pending returns the assistant text streamed so far for the in-flight turn.
func (c *Coordinator) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.String()
}

// Send runs one chat turn. A turn left in OffTopic or Error is dismissed
// first. The user message and the assistant reply are appended to the
// message list only when the turn completes; a rejected turn returns nil, nil
// and leaves the machine in OffTopic.
func (c *Coordinator) Send(ctx context.Context, input string, onChunk func(string)) (*chat.Reply, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	if !c.run.TryLock() {
		return nil, ErrBusy
	}
	defer c.run.Unlock()

	if err := c.Dismiss(); err != nil {
		return nil, err
	}

	ctx, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.end()

	sent := c.now()
	reply, err := c.orch.ProcessChat(ctx, chat.Turn{
		Input:   input,
		History: c.Messages(),
		Session: c.record.Summary(),
		State:   c.machine,
		OnChunk: func(text string) {
			c.mu.Lock()
			c.pending.WriteString(text)
			c.mu.Unlock()
			if onChunk != nil {
				onChunk(text)
			}
		},
	})
	if err != nil || reply == nil {
		return nil, err
	}

	c.mu.Lock()
	c.messages = append(c.messages,
		newMessage(domain.RoleUser, input, sent),
		newMessage(domain.RoleAssistant, reply.Text, c.now()),
	)
	c.mu.Unlock()
	return reply, nil
}

// Dismiss clears an OffTopic or Error state back to Waiting. It is a no-op
// in any other state.
func (c *Coordinator) Dismiss() error {
	switch c.machine.State() {
	case uistate.OffTopic, uistate.Error:
		return c.machine.Transition(uistate.Reset)
	default:
		return nil
	}
}

// Resume replaces the message list with the stored conversation and returns
// the number of messages loaded.
func (c *Coordinator) Resume(ctx context.Context) (int, error) {
	if !c.run.TryLock() {
		return 0, ErrBusy
	}
	defer c.run.Unlock()

	records, err := chat.ProcessChatHistory(ctx, c.client, c.cfg.MessagesURL, c.record.Summary(), c.cfg.HistoryPageLimit, func(page []domain.ChatMessage) {
		c.logger.Debug("History page loaded", "count", len(page))
	})
	if err != nil {
		return 0, fmt.Errorf("resume conversation: %w", err)
	}
	slices.SortStableFunc(records, func(a, b domain.ChatMessage) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	c.mu.Lock()
	c.messages = records
	c.mu.Unlock()
	c.logger.Info("Conversation resumed", "messages", len(records))
	return len(records), nil
}

// ArchiveNow archives the older half of the conversation when it exceeds the
// archive thresholds and the machine is Waiting. It reports whether the
// message list was replaced.
func (c *Coordinator) ArchiveNow(ctx context.Context) (bool, error) {
	if c.archiver == nil {
		return false, nil
	}
	if !c.run.TryLock() {
		return false, nil
	}
	defer c.run.Unlock()

	if c.machine.State() != uistate.Waiting {
		return false, nil
	}
	snapshot := c.Messages()
	if !c.archiver.ShouldArchive(snapshot) {
		return false, nil
	}
	if _, ok := archive.ComputeSplit(snapshot); !ok {
		return false, nil
	}

	ctx, err := c.begin(ctx)
	if err != nil {
		return false, err
	}
	defer c.end()

	result, err := c.archiver.Archive(ctx, c.record.SessionID, snapshot, c.machine)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.messages = result
	c.mu.Unlock()
	return true, nil
}

// RunArchiver checks on every poll interval whether the idle conversation
// should be archived. It returns when ctx is done.
func (c *Coordinator) RunArchiver(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.idleFor() < c.cfg.IdleBefore {
				continue
			}
			archived, err := c.ArchiveNow(ctx)
			if err != nil {
				c.logger.Warn("Background archive failed", "error", err)
				continue
			}
			if archived {
				c.logger.Info("Background archive finished", "messages", len(c.Messages()))
			}
		}
	}
}

// Close cancels any in-flight turn. Later calls to Send return ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) begin(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.pending.Reset()
	return ctx, nil
}

func (c *Coordinator) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.pending.Reset()
	c.lastActivity = c.now()
}

func (c *Coordinator) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastActivity)
}

func newMessage(role domain.Role, content string, at time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: at,
	}
}
