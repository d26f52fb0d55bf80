// Command server runs the chat relay gateway.
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/relaybridge/chatrelay/internal/config"
	"github.com/relaybridge/chatrelay/internal/correlator"
	"github.com/relaybridge/chatrelay/internal/dispatcher"
	"github.com/relaybridge/chatrelay/internal/gateway"
	"github.com/relaybridge/chatrelay/internal/heartbeat"
	"github.com/relaybridge/chatrelay/internal/httpapi"
	"github.com/relaybridge/chatrelay/internal/middleware"
	"github.com/relaybridge/chatrelay/internal/registry"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	reg := registry.New(logger)
	corr := correlator.New(logger)
	dispatch := dispatcher.New(reg, cfg.Timeout.ConnectionStale, logger)

	wsHandler := gateway.New(reg, corr, cfg.AllowedOrigins, logger)
	hb := heartbeat.New(reg, cfg.Timeout.Heartbeat, cfg.Timeout.ConnectionStale, wsHandler.DetachSession, logger)
	apiHandler := httpapi.New(reg, dispatch, corr, cfg.Timeout.Request, cfg.SSE.ChunkSize, logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	apiHandler.RegisterRoutes(r)
	r.Get("/ws", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE responses are long-lived; no fixed write deadline.
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go hb.Run(hbCtx)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	stopHeartbeat()
	<-hb.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
