// gymchat-mock serves an in-memory development backend for gymchat.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ashureev/gymchat/internal/config"
	"github.com/ashureev/gymchat/internal/mockapi"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	addr := pflag.String("addr", cfg.MockAddr, "listen address")
	chunkDelay := pflag.Duration("chunk-delay", 80*time.Millisecond, "delay between streamed chunks")
	chunkWords := pflag.Int("chunk-words", 3, "words per streamed chunk")
	accessLog := pflag.Bool("access-log", true, "log every request")
	pflag.Parse()

	backend := mockapi.NewServer(mockapi.Options{
		Endpoints:  cfg.Endpoints,
		ChunkDelay: *chunkDelay,
		ChunkWords: *chunkWords,
		AccessLog:  *accessLog,
		Logger:     logger,
	})

	// Chat streams stay open for the whole reply, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         *addr,
		Handler:      backend.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Mock backend listening", "addr", srv.Addr, "chunk_delay", *chunkDelay)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
