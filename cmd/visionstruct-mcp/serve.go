package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ironsheep/visionstruct-mcp/internal/config"
	"github.com/ironsheep/visionstruct-mcp/internal/gateway"
	"github.com/ironsheep/visionstruct-mcp/internal/logging"
	"github.com/ironsheep/visionstruct-mcp/internal/protocol"
	"github.com/ironsheep/visionstruct-mcp/internal/server"
	"github.com/ironsheep/visionstruct-mcp/internal/telemetry"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting visionstruct-mcp",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.Stringer("config", cfg))
	if cfg.ConfigFile != "" {
		logger.Info("config file loaded", zap.String("path", cfg.ConfigFile))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instruction := ""
	if cfg.SystemInstructionFile != "" {
		instruction, err = gateway.LoadSystemInstruction(cfg.SystemInstructionFile)
		if err != nil {
			return err
		}
		logger.Info("using custom system instruction", zap.String("path", cfg.SystemInstructionFile))
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    protocol.ServerName,
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	gw := gateway.New(gateway.Config{
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		SystemInstruction: instruction,
		Timeout:           cfg.BackendTimeout,
		MaxDimension:      cfg.MaxImageDimension,
		MaxPixels:         cfg.MaxImagePixels,
		Logger:            logger,
	}, nil)
	if !gw.Configured() {
		logger.Warn("no API key configured; vision_to_json calls will return an error until one is set")
	}

	srv := server.New(server.Config{
		Analyzer:          gw,
		Logger:            logger,
		Observer:          tel.Observer,
		QueueDepth:        cfg.QueueDepth,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		CORSOrigins:       cfg.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Addr()),
			zap.String("sse", server.PathSSE),
			zap.String("model", gw.Model()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.Int("open_sessions", srv.Sessions().Len()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Streams never go idle, so end them before asking net/http to drain.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("session shutdown", zap.Error(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
