// Package mockapi is an in-memory development backend serving every chat
// endpoint the client talks to.
package mockapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ashureev/gymchat/internal/config"
	"github.com/ashureev/gymchat/internal/domain"
	"github.com/ashureev/gymchat/internal/middleware"
)

var errBadContinuation = errors.New("invalid continuation token")

// Options configures the mock backend.
type Options struct {
	Endpoints config.Endpoints
	// ChunkDelay is slept between streamed chunks.
	ChunkDelay time.Duration
	// ChunkWords is the number of words per streamed chunk.
	ChunkWords int
	// AccessLog enables chi's request logger.
	AccessLog bool
	Logger    *slog.Logger
}

// DefaultEndpoints returns the paths used when Options.Endpoints is empty.
func DefaultEndpoints() config.Endpoints {
	return config.Endpoints{
		Screening: "/api/screen",
		Chat:      "/api/chat",
		Summarize: "/api/summarize",
		Archive:   "/api/archive",
		Messages:  "/api/messages",
		Session:   "/api/session",
		Captcha:   "/api/captcha",
	}
}

// Server is the mock backend.
type Server struct {
	opts   Options
	mem    *memory
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	failures map[string][]int // path -> queued status codes
}

// NewServer creates an empty mock backend.
func NewServer(opts Options) *Server {
	if opts.Endpoints == (config.Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:     opts,
		mem:      newMemory(),
		logger:   logger,
		now:      time.Now,
		failures: make(map[string][]int),
	}
}

// Router builds the chi router with every endpoint registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if s.opts.AccessLog {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(s.injectFailures)

	e := s.opts.Endpoints
	r.Post(e.Screening, s.handleScreening)
	r.Post(e.Chat, s.handleChat)
	r.Post(e.Summarize, s.handleSummarize)
	r.Post(e.Archive, s.handleArchive)
	r.Post(e.Messages, s.handleMessages)
	r.Post(e.Session, s.handleSession)
	r.Post(e.Captcha, s.handleCaptcha)
	return r
}

// FailNext makes the next len(statuses) requests to path answer with the
// given status codes.
func (s *Server) FailNext(path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], statuses...)
}

// Seed appends messages to a session's stored history.
func (s *Server) Seed(sessionID string, msgs ...domain.ChatMessage) {
	s.mem.append(sessionID, msgs...)
}

// History returns the live (unarchived) messages of a session.
func (s *Server) History(sessionID string) []domain.ChatMessage {
	msgs, _, _ := s.mem.page(sessionID, int(^uint(0)>>1), "")
	return msgs
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		queue := s.failures[r.URL.Path]
		status := 0
		if len(queue) > 0 {
			status, s.failures[r.URL.Path] = queue[0], queue[1:]
		}
		s.mu.Unlock()
		if status != 0 {
			Error(w, status, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleScreening(w http.ResponseWriter, r *http.Request) {
	var req domain.ScreeningRequest
	if !decode(w, r, &req) {
		return
	}
	kind := Classify(req.Input, req.BenefitOfDoubt)
	s.logger.Debug("Screened input", "session_id", req.SessionSummary.SessionID, "type", kind)
	JSON(w, http.StatusOK, domain.ScreeningResponse{Type: kind})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		Error(w, http.StatusBadRequest, "input is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := req.SessionSummary.SessionID
	asked := s.now()
	text := Reply(req.Personality, req.Input, req.History)

	for _, chunk := range Chunk(text, s.opts.ChunkWords) {
		if err := s.pause(r.Context()); err != nil {
			s.logger.Info("Chat stream abandoned", "session_id", sessionID, "error", err)
			return
		}
		if err := writeChunk(w, chunk); err != nil {
			s.logger.Warn("Failed to write chat chunk", "session_id", sessionID, "error", err)
			return
		}
		flusher.Flush()
	}

	// Stored before the terminator so a history fetch right after the
	// stream sees the turn.
	if sessionID != "" {
		s.mem.append(sessionID,
			domain.ChatMessage{ID: uuid.NewString(), Role: domain.RoleUser, Content: req.Input, Timestamp: asked},
			domain.ChatMessage{ID: uuid.NewString(), Role: domain.RoleAssistant, Content: text, Timestamp: s.now()},
		)
	}
	if err := writeDone(w); err != nil {
		s.logger.Warn("Failed to write stream terminator", "session_id", sessionID, "error", err)
		return
	}
	flusher.Flush()
}

func (s *Server) pause(ctx context.Context) error {
	if s.opts.ChunkDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.opts.ChunkDelay):
		return nil
	}
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req domain.SummarizeRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		Error(w, http.StatusBadRequest, "messages are required")
		return
	}
	JSON(w, http.StatusOK, domain.SummarizeResponse{Summary: &domain.ChatMessage{
		ID:        uuid.NewString(),
		ClassName: "summary",
		Role:      domain.RoleAssistant,
		Content:   Summarize(req.Messages, req.WordCount),
		// Takes the place of the summarized messages, so it sorts before the
		// messages that stay live.
		Timestamp: req.Messages[0].Timestamp,
	}})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req domain.ArchiveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Limit <= 0 {
		Error(w, http.StatusBadRequest, "sessionId and a positive limit are required")
		return
	}
	updated, next := s.mem.archive(req.SessionID, req.CreatedAfter, req.CreatedBefore, req.Limit)
	s.logger.Debug("Archived page", "session_id", req.SessionID, "updated", updated, "more", next != "")
	JSON(w, http.StatusOK, domain.ArchiveResponse{UpdatedCount: updated, Continuation: next})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req domain.MessagesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		Error(w, http.StatusBadRequest, "limit must be positive")
		return
	}
	records, next, err := s.mem.page(req.SessionSummary.SessionID, req.Limit, req.Continuation)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusOK, domain.MessagesResponse{Records: records, Continuation: next})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionRequest
	if !decode(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.UserDetails.Email))
	if email == "" {
		Error(w, http.StatusBadRequest, "userDetails.email is required")
		return
	}

	key := email + "/" + string(req.Personality)
	id, created := s.mem.session(key, uuid.NewString)
	JSON(w, http.StatusOK, domain.SessionResponse{
		SessionID:              id,
		Role:                   "member",
		ShowInterstitialPrompt: created,
	})
}

func (s *Server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	var req domain.CaptchaRequest
	if !decode(w, r, &req) {
		return
	}
	var resp domain.CaptchaResponse
	switch {
	case strings.HasPrefix(req.Token, "pass"):
		resp = domain.CaptchaResponse{IsValid: true, PassedThreshold: true, Score: 0.9}
	case strings.HasPrefix(req.Token, "low"):
		resp = domain.CaptchaResponse{IsValid: true, Score: 0.2}
	}
	JSON(w, http.StatusOK, resp)
}
