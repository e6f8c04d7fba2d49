// gymchat is a terminal client for the fitness chat assistant.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ashureev/gymchat/internal/config"
	"github.com/ashureev/gymchat/internal/domain"
	"github.com/ashureev/gymchat/internal/session"
	"github.com/ashureev/gymchat/internal/store"
	"github.com/ashureev/gymchat/internal/tui"
)

// sessionRetention is how long an unused stored session id is kept.
const sessionRetention = 30 * 24 * time.Hour

type flags struct {
	ask          string
	email        string
	name         string
	personality  string
	apiURL       string
	captchaToken string
	fresh        bool
	noResume     bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var f flags
	flagSet := pflag.NewFlagSet("gymchat", pflag.ContinueOnError)
	flagSet.StringVar(&f.ask, "ask", "", "ask one question, stream the reply to stdout and exit")
	flagSet.StringVar(&f.email, "email", "", "email identifying the user (overrides GYMCHAT_EMAIL)")
	flagSet.StringVar(&f.name, "name", "", "display name sent when a new session is created")
	flagSet.StringVar(&f.personality, "personality", "", "assistant personality (overrides GYMCHAT_PERSONALITY)")
	flagSet.StringVar(&f.apiURL, "api-url", "", "backend base URL (overrides GYMCHAT_API_URL)")
	flagSet.StringVar(&f.captchaToken, "captcha-token", "", "verify this captcha token before opening the session")
	flagSet.BoolVar(&f.fresh, "fresh", false, "ignore the stored session and start a new one")
	flagSet.BoolVar(&f.noResume, "no-resume", false, "do not load earlier messages")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	interactive := f.ask == ""
	logger, closeLog, err := newLogger(cfg, interactive)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("check database: %w", err)
	}
	if removed, err := repo.CleanupExpiredSessions(ctx, sessionRetention); err != nil {
		slog.Warn("Failed to clean up expired sessions", "error", err)
	} else if removed > 0 {
		slog.Info("Expired sessions removed", "count", removed)
	}

	client := session.NewClient(cfg, logger)

	if f.captchaToken != "" {
		ok, err := session.VerifyCaptcha(ctx, client, cfg.URL(cfg.Endpoints.Captcha), f.captchaToken, "chat")
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("captcha verification failed")
		}
	}

	rec, err := session.Open(ctx, client, repo, session.OpenRequest{
		URL:         cfg.URL(cfg.Endpoints.Session),
		Email:       cfg.Email,
		Name:        f.name,
		Personality: domain.Personality(cfg.Personality),
		Fresh:       f.fresh,
	}, logger)
	if err != nil {
		return err
	}

	coord := session.NewFromConfig(cfg, client, *rec, logger)
	defer coord.Close()

	if !f.noResume {
		if n, err := coord.Resume(ctx); err != nil {
			slog.Warn("Failed to load earlier messages", "error", err)
		} else {
			slog.Info("Earlier messages loaded", "count", n)
		}
	}

	if !interactive {
		return askOnce(ctx, coord, f.ask, os.Stdout)
	}

	go coord.RunArchiver(ctx)

	model := tui.NewModel(coord, tui.Options{Title: cfg.Personality})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func applyFlags(cfg *config.Config, f flags) {
	if f.email != "" {
		cfg.Email = f.email
	}
	if f.personality != "" {
		cfg.Personality = f.personality
	}
	if f.apiURL != "" {
		cfg.APIBaseURL = f.apiURL
	}
}

// newLogger writes JSON logs to the log file while the TUI owns the
// terminal, and to stderr in one-shot mode.
func newLogger(cfg *config.Config, interactive bool) (*slog.Logger, func(), error) {
	if !interactive {
		h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
		return slog.New(h), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	h := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(h), func() { _ = file.Close() }, nil
}

func askOnce(ctx context.Context, coord *session.Coordinator, question string, out io.Writer) error {
	reply, err := coord.Send(ctx, question, func(chunk string) {
		fmt.Fprint(out, chunk)
	})
	if err != nil {
		return err
	}
	if reply == nil {
		return errors.New("the question was screened out as off topic")
	}
	fmt.Fprintln(out)
	return nil
}
