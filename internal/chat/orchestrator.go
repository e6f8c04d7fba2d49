// Package chat implements one conversational turn against the backend:
// screening, the streamed chat call and chat-history pagination.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/gymchat/internal/apiclient"
	"github.com/ashureev/gymchat/internal/domain"
	"github.com/ashureev/gymchat/internal/uistate"
)

// DefaultTimeout is the watchdog limit for one streamed reply.
const DefaultTimeout = 300 * time.Second

// ErrWatchdogTimeout is returned when a reply does not complete in time.
var ErrWatchdogTimeout = errors.New("chat timed out")

// StreamSource opens the byte stream of a chat reply. apiclient.Client
// implements it over HTTP; tests and alternative transports supply their own.
type StreamSource interface {
	OpenStream(ctx context.Context, url string, body any) (io.ReadCloser, error)
}

// Config holds orchestrator configuration.
type Config struct {
	ScreeningURL   string
	ChatURL        string
	Personality    domain.Personality
	BenefitOfDoubt bool
	Timeout        time.Duration
}

// Turn is one user submission.
type Turn struct {
	Input   string
	History []domain.ChatMessage
	Session domain.SessionSummary
	// State receives protocol events; required.
	State uistate.Transitioner
	// OnChunk is called with every piece of reply text in arrival order.
	OnChunk func(text string)
	// OnComplete is called once after the reply finished successfully.
	OnComplete func()
}

// Reply is a completed assistant answer.
type Reply struct {
	Text   string
	Chunks int
}

// Orchestrator runs the screening and chat protocol.
type Orchestrator struct {
	client *apiclient.Client
	source StreamSource
	cfg    Config
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator that screens and streams through client.
func NewOrchestrator(client *apiclient.Client, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Personality == "" {
		cfg.Personality = domain.DefaultPersonality
	}
	return &Orchestrator{
		client: client,
		source: client,
		cfg:    cfg,
		logger: logger,
	}
}

// WithStreamSource replaces the transport used for the chat stream.
func (o *Orchestrator) WithStreamSource(src StreamSource) *Orchestrator {
	o.source = src
	return o
}

// ProcessChat runs one turn. It returns (nil, nil) when screening rejects the
// input. On any failure it emits Error and returns the cause; the UI state
// already reflects it. History is never modified.
func (o *Orchestrator) ProcessChat(ctx context.Context, turn Turn) (*Reply, error) {
	if err := turn.State.Transition(uistate.StartedScreening); err != nil {
		return nil, err
	}

	// Once the assistant has answered, the conversation has been screened.
	if !domain.HasAssistantMessage(turn.History) {
		passed, err := o.screen(ctx, turn)
		if err != nil {
			return nil, o.fail(turn, fmt.Errorf("screening: %w", err))
		}
		if !passed {
			o.logger.Info("Input rejected by screening", "session_id", turn.Session.SessionID)
			if err := turn.State.Transition(uistate.RejectedFromScreening); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}

	if err := turn.State.Transition(uistate.PassedScreening); err != nil {
		return nil, err
	}
	if err := turn.State.Transition(uistate.StartedChat); err != nil {
		return nil, err
	}

	reply, err := o.stream(ctx, turn)
	if err != nil {
		return nil, o.fail(turn, err)
	}

	if err := turn.State.Transition(uistate.FinishedChat); err != nil {
		return nil, err
	}
	if turn.OnComplete != nil {
		turn.OnComplete()
	}
	o.logger.Debug("Chat completed", "session_id", turn.Session.SessionID, "chunks", reply.Chunks, "length", len(reply.Text))
	return reply, nil
}

func (o *Orchestrator) screen(ctx context.Context, turn Turn) (bool, error) {
	resp, err := apiclient.Post[domain.ScreeningResponse](ctx, o.client, o.cfg.ScreeningURL, domain.ScreeningRequest{
		Personality:    o.cfg.Personality,
		SessionSummary: turn.Session,
		Input:          turn.Input,
		BenefitOfDoubt: o.cfg.BenefitOfDoubt,
	})
	if err != nil {
		return false, err
	}
	if resp == nil || resp.Data.Type == "" || resp.Data.Type == domain.ScreeningOffTopic {
		return false, nil
	}
	return true, nil
}

// stream runs the chat call under the watchdog. The watchdog closes the
// stream when it fires so a blocked read returns; both timers are released
// on every return path.
func (o *Orchestrator) stream(parent context.Context, turn Turn) (*Reply, error) {
	ctx, cancel := context.WithTimeout(parent, o.cfg.Timeout)
	defer cancel()

	body, err := o.source.OpenStream(ctx, o.cfg.ChatURL, domain.ChatRequest{
		Personality:    o.cfg.Personality,
		SessionSummary: turn.Session,
		Input:          turn.Input,
		History:        turn.History,
		BenefitOfDoubt: o.cfg.BenefitOfDoubt,
	})
	if err != nil {
		return nil, o.watchdogErr(parent, ctx, fmt.Errorf("open chat stream: %w", err))
	}
	defer func() {
		if closeErr := body.Close(); closeErr != nil {
			o.logger.Debug("Failed to close chat stream", "error", closeErr)
		}
	}()
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	var text strings.Builder
	n := 0
	for chunk, err := range Chunks(body) {
		if err != nil {
			return nil, o.watchdogErr(parent, ctx, err)
		}
		text.WriteString(chunk)
		n++
		if turn.OnChunk != nil {
			turn.OnChunk(chunk)
		}
	}
	// A closed stream ends the sequence without error; make sure it was
	// not the watchdog that closed it.
	if ctx.Err() != nil {
		return nil, o.watchdogErr(parent, ctx, ctx.Err())
	}
	return &Reply{Text: text.String(), Chunks: n}, nil
}

func (o *Orchestrator) watchdogErr(parent, ctx context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("chat canceled: %w", parent.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no completion after %s", ErrWatchdogTimeout, o.cfg.Timeout)
	}
	return err
}

func (o *Orchestrator) fail(turn Turn, cause error) error {
	o.logger.Error("Chat failed", "session_id", turn.Session.SessionID, "error", apiclient.Sanitize(cause.Error()))
	if err := turn.State.Transition(uistate.Errored); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
