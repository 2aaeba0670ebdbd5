package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"htxsale/backend/internal/cache"
	"htxsale/backend/internal/config"
	"htxsale/backend/internal/httpapi"
	"htxsale/backend/internal/service"
	"htxsale/backend/internal/store"
	"htxsale/backend/internal/store/memory"
	"htxsale/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("[server] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closers := buildRepository(ctx, cfg)
	pricingCache, cacheCloser := buildPricingCache(ctx, cfg)
	if cacheCloser != nil {
		closers = append(closers, cacheCloser)
	}
	defer func() {
		for _, closer := range closers {
			if err := closer.Close(); err != nil {
				log.Printf("[server] WARN: close: %v", err)
			}
		}
	}()

	svc := service.New(repo, pricingCache, cfg.HTXList)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("[server] shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] listen: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] WARN: shutdown: %v", err)
	}
}

// validateSecurityConfig refuses to start against a real database with a
// guessable token secret. The in-memory dev mode keeps its fallbacks.
func validateSecurityConfig(cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		return nil
	}
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be at least 32 characters when DATABASE_URL is set")
	}
	return nil
}

// buildRepository prefers Postgres when DATABASE_URL is set and falls back
// to the seeded in-memory store for local development.
func buildRepository(ctx context.Context, cfg config.Config) (store.Repository, []io.Closer) {
	if cfg.DatabaseURL == "" {
		log.Printf("[server] WARN: DATABASE_URL not set, using in-memory store")
		return memory.NewSeeded(cfg.HTXList), nil
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[server] postgres: %v", err)
	}
	return pg, []io.Closer{pg}
}

func buildPricingCache(ctx context.Context, cfg config.Config) (cache.PricingCache, io.Closer) {
	if cfg.RedisAddr == "" {
		log.Printf("[server] WARN: REDIS_ADDR not set, pricing cache disabled")
		return cache.NoopPricingCache{}, nil
	}

	rc := cache.NewRedisPricingCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Duration(cfg.PricingCacheTTLSeconds)*time.Second)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		log.Printf("[server] WARN: redis unreachable, pricing cache disabled: %v", err)
		_ = rc.Close()
		return cache.NoopPricingCache{}, nil
	}
	return rc, rc
}
