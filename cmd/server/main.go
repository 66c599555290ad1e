// Command server runs the SAIGE web console.
//
// Usage:
//
//	server [flags]
//
// Flags:
//
//	-config   Path to the config file (default: <UserConfigDir>/saige/config.yaml)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	saigewebui "github.com/MegaGrindStone/saige-web-ui"
	"github.com/MegaGrindStone/saige-web-ui/internal/config"
	"github.com/MegaGrindStone/saige-web-ui/internal/handlers"
	"github.com/MegaGrindStone/saige-web-ui/internal/services"
	"github.com/MegaGrindStone/saige-web-ui/internal/session"
	"golang.org/x/sync/errgroup"
)

const errLoggerKey = "error"

func main() {
	cfgPath := flag.String("config", "", "Path to the config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		log.Fatal(err)
	}
}

func run(cfgPath string) error {
	if cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := cfg.NewLogger(os.Stdout)
	if err != nil {
		return err
	}
	defer closeLog()

	backend := services.NewSAIGE(cfg.BackendURL, nil, logger)
	chat, err := cfg.ChatStreamer(backend, logger)
	if err != nil {
		return fmt.Errorf("error creating chat streamer: %w", err)
	}
	sess := session.New(chat, logger, cfg.RendererOptions()...)

	m, err := handlers.NewMain(sess, backend, services.NewMarkdown(cfg.HighlightStyle), logger)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	// Serve static files
	staticFS, err := fs.Sub(saigewebui.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/abort", m.HandleAbort)
	mux.HandleFunc("/logs", m.HandleLogs)
	mux.HandleFunc("/verify", m.HandleVerify)
	mux.HandleFunc("/commands", m.HandleCommands)
	mux.HandleFunc("/sse/messages", m.HandleSSE)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("backend", cfg.BackendURL),
			slog.String("chatProvider", cfg.ChatProvider()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Start shutdown")

		// Create context with timeout for shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
		}
		return nil
	})

	return g.Wait()
}
