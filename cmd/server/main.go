package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mayachat "github.com/MegaGrindStone/maya-chat"
	"github.com/MegaGrindStone/maya-chat/internal/chat"
	"github.com/MegaGrindStone/maya-chat/internal/handlers"
	"github.com/MegaGrindStone/maya-chat/internal/models"
	"github.com/MegaGrindStone/maya-chat/internal/services"
	"github.com/spf13/cobra"
)

const sessionAPITimeout = 10 * time.Second

func main() {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "mayachat",
		Short:         "Maya Chat - web chat with the Maya translation assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

	events := make(chan models.Event, 64)
	sock, err := services.NewSocket(cfg.BackendURL, cfg.ReconnectDelay, events, logger)
	if err != nil {
		return err
	}
	defer sock.Shutdown()

	sessions, err := services.NewSessionAPI(cfg.BackendURL, sessionAPITimeout, logger)
	if err != nil {
		return err
	}

	feed, err := handlers.NewFeed(logger)
	if err != nil {
		return err
	}

	view := chat.NewView(sock, sessions, feed, events, cfg.WelcomeMessage, logger)
	m := handlers.NewMain(view, feed, logger)

	viewCtx, stopView := context.WithCancel(context.Background())
	viewDone := make(chan struct{})
	go func() {
		defer close(viewDone)
		_ = view.Run(viewCtx)
	}()
	// The view stops reading events before the socket is shut down by the deferred call above.
	defer func() {
		stopView()
		<-viewDone
	}()

	// Serve static files
	staticFS, err := fs.Sub(mayachat.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/messages", m.HandleMessages)
	mux.HandleFunc("/sessions/reset", m.HandleReset)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("backendURL", cfg.BackendURL))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

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
