package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"yuzu/discussion/internal/api"
	"yuzu/discussion/internal/config"
	"yuzu/discussion/internal/health"
	"yuzu/discussion/internal/llm"
	"yuzu/discussion/internal/orchestrator"
	"yuzu/discussion/internal/store"
)

// llmService is the grpc health service name that tracks LLM readiness.
const llmService = "discussion.llm"

const readinessInterval = 30 * time.Second

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	if lvl, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if cfg.Stream.TokenSecret == "" {
		cfg.Stream.TokenSecret = randomSecret()
		log.Warn().Msg("STREAM_TOKEN_SECRET not set; stream tokens will not survive a restart")
	}

	st := store.New()
	client, err := llm.New(llm.Options{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		Timeout:       time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RatePerSecond: cfg.LLM.RatePerSecond,
		MaxRetries:    cfg.LLM.MaxRetries,
		Fallback:      llm.FallbackReply,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("llm client")
	}

	opts := orchestrator.DefaultOptions()
	opts.MaxRounds = cfg.Discussion.MaxRounds
	opts.IdleGrace = time.Duration(cfg.Discussion.IdleGraceMs) * time.Millisecond
	opts.ChainProbability = cfg.Discussion.ChainProbability
	opts.TimeScale = cfg.Discussion.TimeScale
	opts.FallbackUtterance = cfg.Discussion.Fallback
	mgr := orchestrator.NewManager(client, client, st, opts)

	h := api.NewHandlers(cfg, st, mgr, client)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           logMiddleware(api.NewRouter(h)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	gs := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(llmService, healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go watchReadiness(ctx, cfg, hs)

	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Server.GRPCPort).Msg("grpc listen")
	}
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("grpc health server starting")
		if err := gs.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc server error")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received; stopping server...")
		hs.Shutdown()
		mgr.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		gs.GracefulStop()
	}()

	log.Info().Str("addr", srv.Addr).Str("model", cfg.LLM.Model).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}

// watchReadiness mirrors the LLM check into the grpc health service.
func watchReadiness(ctx context.Context, cfg config.Config, hs *grpchealth.Server) {
	t := time.NewTicker(readinessInterval)
	defer t.Stop()
	for {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status := health.CheckAll(cctx, cfg)
		cancel()
		serving := healthpb.HealthCheckResponse_SERVING
		if !status.OK {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
			log.Warn().Str("status", status.String()).Msg("llm not ready")
		}
		hs.SetServingStatus(llmService, serving)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msg("stream secret")
	}
	return hex.EncodeToString(b)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("http")
	})
}
