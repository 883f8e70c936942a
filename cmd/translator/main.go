package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/maya-chat/internal/services"
	"github.com/MegaGrindStone/maya-chat/internal/translator"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "translator",
		Short:         "Maya translator - backend of the Maya translation assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The .env file is optional; the environment may already hold the api keys.
			_ = godotenv.Load()

			cfg, err := loadConfig(cfgPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	rootCmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to the config file")

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	level, err := cfg.logLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, closeStore, err := newStore(cfg.StorePath, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Without a working LLM the server still starts and tells its clients the assistant is unavailable.
	llm, err := cfg.LLM.llm(context.Background(), cfg.SystemPrompt, cfg.Parameters, logger)
	if err != nil {
		logger.Error("Failed to initialize llm, the assistant is unavailable", slog.String("err", err.Error()))
	}
	if closer, ok := llm.(io.Closer); ok {
		defer closer.Close()
	}

	s := translator.NewServer(llm, store, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Translator starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	return nil
}

// newStore opens the bolt store at path, or an in-memory store when path is empty.
func newStore(path string, logger *slog.Logger) (translator.Store, func(), error) {
	if path == "" {
		logger.Info("Keeping chat history in memory")
		return services.NewMemory(), func() {}, nil
	}

	boltDB, err := services.NewBoltDB(path)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Keeping chat history in bolt", slog.String("path", path))

	return boltDB, func() {
		if err := boltDB.Close(); err != nil {
			logger.Error("Failed to close store", slog.String("err", err.Error()))
		}
	}, nil
}
