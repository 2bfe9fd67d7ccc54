package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"yuzu/interview/internal/api"
	"yuzu/interview/internal/auth"
	"yuzu/interview/internal/config"
	"yuzu/interview/internal/dialogue"
	"yuzu/interview/internal/health"
	"yuzu/interview/internal/llm"
	"yuzu/interview/internal/logging"
	"yuzu/interview/internal/store"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(os.Stderr, cfg.Server.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	model, err := newStreamer(cfg)
	if err != nil {
		logger.Error("llm setup failed", "err", err)
		os.Exit(1)
	}
	logger.Info("config loaded", "port", cfg.Server.Port, "llm", model.Name(), "auth", cfg.Auth.TokenSecret != "")

	st := store.New()
	signer := auth.Signer{Secret: cfg.Auth.TokenSecret, TTL: cfg.TokenTTL(), SkewSeconds: cfg.Auth.TokenSkewSecs}
	var pinger health.Pinger
	if p, ok := model.(health.Pinger); ok {
		pinger = p
	}
	checks := []health.Check{health.StoreCheck(st), health.LLMCheck(model.Name(), pinger)}

	systemPrompt := cfg.LLM.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = llm.DefaultSystemPrompt
	}
	streams := dialogue.NewStreams(model, dialogue.StreamConfig{
		SystemPrompt: systemPrompt,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
	}, logger)
	wss := dialogue.NewServer(st, dialogue.NewRegistry(), streams, signer, logger)

	h := api.NewHandlers(st, signer, cfg.Server.PublicWSBase, logger, checks...)
	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(logger, api.NewRouter(h, wss.HandleInterviewWS)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var hs *health.GRPCServer
	if cfg.Server.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCHealthAddr)
		if err != nil {
			logger.Error("grpc health listen", "addr", cfg.Server.GRPCHealthAddr, "err", err)
			os.Exit(1)
		}
		hs = health.NewGRPCServer(logger, checks...)
		go hs.Watch(ctx, 30*time.Second)
		go func() {
			if err := hs.Serve(lis); err != nil {
				logger.Error("grpc health server", "err", err)
			}
		}()
		logger.Info("grpc health listening", "addr", lis.Addr().String())
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("shutdown signal received; stopping server")
		stop()
		streams.Close()
		if hs != nil {
			hs.Stop()
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func newStreamer(cfg config.Config) (llm.Streamer, error) {
	if cfg.LLM.Provider == config.ProviderEcho {
		return llm.NewEcho(time.Duration(cfg.LLM.EchoDelayMs) * time.Millisecond), nil
	}
	return llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model,
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithTimeout(cfg.LLMTimeout()),
	)
}

func logMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start))
	})
}
