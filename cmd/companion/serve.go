package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/engine"
	"github.com/becomeliminal/nim-companion/logger"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/memory/buffer"
	"github.com/becomeliminal/nim-companion/observability"
	"github.com/becomeliminal/nim-companion/server"
)

const (
	optimizerCacheCost = 1 << 20
	shutdownTimeout    = 15 * time.Second
)

type ServeCommander struct {
	listen string
	cfg    *config.Config
	logger *zap.Logger
}

const serveLongDesc string = `Run the companion API.

Endpoints:
  POST /v1/converse              One conversational turn
  GET  /v1/converse/ws           Conversational turns over a WebSocket
  GET  /v1/personas/{id}         Read a persona override
  PUT  /v1/personas/{id}         Analyze and store a persona override
  PUT  /v1/knowledge/{scope}     Replace a server's knowledge document
  POST /v1/comments              Comment on a forum post
  GET  /healthz, /metrics`

const serveShortDesc string = "Run the companion API"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmder.listen != "" {
				cmder.cfg.Listen = cmder.listen
			}
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (overrides LISTEN_ADDR)")

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger = logger.New(c.cfg.Debug)
	defer c.logger.Sync()

	metrics := observability.NewMetrics("companion")

	redisClient, err := buffer.Connect(buffer.RedisOptions{URL: c.cfg.Redis.URL})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	recency := buffer.New(redisClient, buffer.Config{
		MaxTurns: c.cfg.Redis.BufferSize,
		TTL:      c.cfg.Redis.BufferTTL,
		MaxChars: c.cfg.Redis.TurnMaxChars,
	}, c.logger)

	embedder, err := newEmbedder(ctx, c.cfg.Embedder, c.logger)
	if err != nil {
		return err
	}
	if closer, ok := embedder.(io.Closer); ok {
		defer closer.Close()
	}

	store, err := newStore(c.cfg.Vector, embedder, c.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	client := newAnthropicClient(c.cfg.Anthropic)
	chat := engine.NewAnthropicGenerator(client, c.cfg.Anthropic.ChatModel, engine.WithTemperature(0.3))
	summary := engine.NewAnthropicGenerator(client, c.cfg.Anthropic.SummaryModel, engine.WithTemperature(0.1))

	pool, err := engine.NewPool(&engine.PoolConfig{
		NumWorkers: uint(c.cfg.Server.Workers),
		Metrics:    metrics,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating pool: %w", err)
	}
	// Runs after the HTTP server stops, so queued persistence drains first
	defer pool.Close()

	manager := memory.NewManager(store, summary, &memory.Config{
		CompactionThreshold: c.cfg.Memory.CompactionThreshold,
		CompactionScanLimit: c.cfg.Memory.CompactionScanLimit,
		Language:            c.cfg.Language,
	},
		memory.WithScheduler(pool),
		memory.WithMetrics(metrics),
		memory.WithLogger(c.logger),
	)

	optimizer, err := engine.NewOptimizer(summary, optimizerCacheCost, metrics, c.logger)
	if err != nil {
		return fmt.Errorf("creating optimizer: %w", err)
	}
	defer optimizer.Close()

	eng := engine.New(chat, manager, recency, optimizer, &engine.Config{
		BotName:          c.cfg.BotName,
		Language:         c.cfg.Language,
		DefaultPersona:   engine.DefaultConfig.DefaultPersona,
		KnowledgeResults: engine.DefaultConfig.KnowledgeResults,
		HistoryResults:   engine.DefaultConfig.HistoryResults,
	},
		engine.WithScheduler(pool),
		engine.WithMetrics(metrics),
		engine.WithLogger(c.logger),
	)

	srv := server.New(server.Config{
		MaxMessageChars: c.cfg.Server.MaxMessageChars,
		ExposeErrors:    c.cfg.Debug,
	}, eng, metrics, c.logger)

	httpServer := &http.Server{
		Addr:              c.cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	c.logger.Info("starting companion api",
		zap.String("addr", c.cfg.Listen),
		zap.String("vector_backend", c.cfg.Vector.Backend),
		zap.String("embedder", c.cfg.Embedder.Provider),
		zap.String("chat_model", c.cfg.Anthropic.ChatModel),
	)

	// Channel to capture errors from the listener
	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		c.logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
