// Package session ties the chat and archive protocols to one conversation:
// it opens or restores the backend session, owns the UI state machine and
// keeps the live message list.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/gymchat/internal/apiclient"
	"github.com/ashureev/gymchat/internal/domain"
	"github.com/ashureev/gymchat/internal/store"
)

// ErrMissingEmail is returned by Open when no email is configured.
var ErrMissingEmail = errors.New("email is required to open a session")

// OpenRequest describes who is opening a session.
type OpenRequest struct {
	URL         string
	Email       string
	Name        string
	Personality domain.Personality
	// Fresh drops the stored session and always asks the backend for a new one.
	Fresh bool
}

// Open returns the stored session for the email and personality, or creates
// one through the backend and stores it. repo may be nil. A Fresh request
// removes the stored session before contacting the backend.
func Open(ctx context.Context, client *apiclient.Client, repo store.Repository, req OpenRequest, logger *slog.Logger) (*domain.SessionRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, ErrMissingEmail
	}
	if req.Personality == "" {
		req.Personality = domain.DefaultPersonality
	}

	if repo != nil && req.Fresh {
		if err := repo.DeleteSession(ctx, email, req.Personality); err != nil {
			return nil, fmt.Errorf("drop stored session: %w", err)
		}
	}
	if repo != nil && !req.Fresh {
		rec, err := repo.GetSession(ctx, email, req.Personality)
		if err != nil {
			return nil, fmt.Errorf("load stored session: %w", err)
		}
		if rec != nil {
			if err := repo.TouchSession(ctx, email, req.Personality, time.Now()); err != nil {
				logger.Warn("Failed to touch stored session", "error", err)
			}
			logger.Info("Reusing stored session", "session_id", rec.SessionID, "personality", rec.Personality)
			return rec, nil
		}
	}

	resp, err := apiclient.Post[domain.SessionResponse](ctx, client, req.URL, domain.SessionRequest{
		UserDetails: domain.UserDetails{Email: email, Name: req.Name},
		Personality: req.Personality,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if resp.Data.SessionID == "" {
		return nil, errors.New("create session: backend returned no session id")
	}

	rec := &domain.SessionRecord{
		SessionID:              resp.Data.SessionID,
		Email:                  email,
		Personality:            req.Personality,
		Role:                   resp.Data.Role,
		ShowInterstitialPrompt: resp.Data.ShowInterstitialPrompt,
	}
	if repo != nil {
		if err := repo.UpsertSession(ctx, rec); err != nil {
			return nil, fmt.Errorf("store session: %w", err)
		}
	}
	logger.Info("Opened new session", "session_id", rec.SessionID, "personality", rec.Personality)
	return rec, nil
}

// VerifyCaptcha checks a captcha token. It passes only when the backend
// reports the token valid and above its score threshold.
func VerifyCaptcha(ctx context.Context, client *apiclient.Client, url, token, action string) (bool, error) {
	if token == "" {
		return false, errors.New("verify captcha: empty token")
	}
	resp, err := apiclient.Post[domain.CaptchaResponse](ctx, client, url, domain.CaptchaRequest{
		Token:  token,
		Action: action,
	})
	if err != nil {
		return false, fmt.Errorf("verify captcha: %w", err)
	}
	return resp.Data.IsValid && resp.Data.PassedThreshold, nil
}
