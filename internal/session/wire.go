package session

import (
	"log/slog"

	"github.com/ashureev/gymchat/internal/apiclient"
	"github.com/ashureev/gymchat/internal/archive"
	"github.com/ashureev/gymchat/internal/chat"
	"github.com/ashureev/gymchat/internal/config"
	"github.com/ashureev/gymchat/internal/domain"
)

// NewClient builds the API client from configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *apiclient.Client {
	return apiclient.New(apiclient.Options{
		Timeout:        cfg.HTTP.RequestTimeout,
		StreamTimeout:  cfg.HTTP.StreamTimeout,
		RetryMax:       cfg.HTTP.RetryMax,
		RetryBaseDelay: cfg.HTTP.RetryBaseDelay,
		RetryMaxJitter: cfg.HTTP.RetryMaxJitter,
		LogRequests:    cfg.HTTP.LogRequests,
		Logger:         logger,
	})
}

// NewFromConfig wires the orchestrator, the archiver and a coordinator for
// record. The tiktoken counter is used when its table loads; otherwise the
// length heuristic takes over.
func NewFromConfig(cfg *config.Config, client *apiclient.Client, record domain.SessionRecord, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	orch := chat.NewOrchestrator(client, chat.Config{
		ScreeningURL:   cfg.URL(cfg.Endpoints.Screening),
		ChatURL:        cfg.URL(cfg.Endpoints.Chat),
		Personality:    record.Personality,
		BenefitOfDoubt: cfg.BenefitOfDoubt,
		Timeout:        cfg.HTTP.StreamTimeout,
	}, logger)

	var counter archive.TokenCounter = archive.HeuristicCounter{}
	if tc, err := archive.NewTiktokenCounter(archive.DefaultEncoding); err != nil {
		logger.Warn("Tokenizer unavailable, using length heuristic", "error", err)
	} else {
		counter = tc
	}

	archiver := archive.NewArchiver(client, counter, archive.Config{
		ArchiveURL:    cfg.URL(cfg.Endpoints.Archive),
		SummarizeURL:  cfg.URL(cfg.Endpoints.Summarize),
		ModelProvider: cfg.ModelProvider,
		WordCount:     cfg.Archive.SummaryWordCount,
		PageLimit:     cfg.Archive.PageLimit,
		Thresholds: archive.Thresholds{
			MaxMessages: cfg.Archive.MaxMessages,
			MaxTokens:   cfg.Archive.MaxTokens,
		},
	}, logger)

	return NewCoordinator(client, orch, archiver, record, Config{
		MessagesURL:      cfg.URL(cfg.Endpoints.Messages),
		HistoryPageLimit: cfg.History.PageLimit,
		PollInterval:     cfg.Archive.PollInterval,
		IdleBefore:       cfg.Archive.IdleBefore,
	}, logger)
}
