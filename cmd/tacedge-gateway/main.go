// Command tacedge-gateway wires the Gateway Front (C5) together with the
// Audit Log (C1), Crypto Sealer (C2), Precedence Queue (C3), and Dispatch
// Worker (C4) and serves the relay's HTTP surface. Shutdown is driven by
// signal.NotifyContext, which stops the dispatch worker and lets its
// in-flight delivery attempt finish before the process exits.
package main

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/audit"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/auth"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/config"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/crypto"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/dispatch"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/principal"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/gateway"
	httpapi "github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/http"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/noderegistry"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/queue"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/repo/postgres"
)

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mirror audit.Mirror
	if cfg.PostgresDSN != "" {
		poolCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := pgxpool.New(poolCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pool.Close()
		mirror = postgres.NewAuditRepo(pool)
	}
	auditLog := audit.New(cfg.AuditRingCapacity, mirror)

	keyBytes, err := hex.DecodeString(cfg.ContentEncryptionKeyHex)
	if err != nil || len(keyBytes) != crypto.KeySize {
		log.Fatalf("CONTENT_ENCRYPTION_KEY_HEX must decode to %d bytes: %v", crypto.KeySize, err)
	}
	ring, err := crypto.NewKeyRing(cfg.KeyVersion, keyBytes)
	if err != nil {
		log.Fatalf("failed to init key ring: %v", err)
	}
	sealer := crypto.NewSealer(ring, auditLog)

	if cfg.TokenSigningKey == "" {
		log.Fatalf("TOKEN_SIGNING_KEY is required")
	}
	tokens, err := auth.NewTokenManager([]byte(cfg.TokenSigningKey), auth.WithIssuerAudience(cfg.TokenIssuer, cfg.TokenAudience))
	if err != nil {
		log.Fatalf("failed to init token manager: %v", err)
	}
	if cfg.TokenPreviousKey != "" {
		// Double-rotate so TokenSigningKey ends up as the active secret and
		// TokenPreviousKey as the verify-only fallback.
		if err := tokens.Rotate([]byte(cfg.TokenPreviousKey)); err != nil {
			log.Fatalf("failed to load previous signing key: %v", err)
		}
		if err := tokens.Rotate([]byte(cfg.TokenSigningKey)); err != nil {
			log.Fatalf("failed to load signing key: %v", err)
		}
	}

	var (
		limiter     auth.RateLimiter
		queueStore  queue.Store
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		limiter = auth.NewRedisLimiter(redisClient, time.Now)
		queueStore = queue.NewRedisStore(redisClient)
	} else {
		limiter = auth.NewMemoryLimiter(auth.MemoryLimiterConfig{})
		queueStore = queue.NewMemoryStore()
	}

	nodes := noderegistry.New(cfg.HeartbeatThreshold())

	workerBearer := func() string {
		token, err := tokens.IssueToken("tacedge-gateway-dispatcher", "", principal.RoleService, time.Minute)
		if err != nil {
			log.Printf("dispatch worker: failed to mint delivery token: %v", err)
			return ""
		}
		return token
	}
	transport := dispatch.NewHTTPTransport(&http.Client{Timeout: 30 * time.Second}, nodes, workerBearer)

	worker := dispatch.NewWorker(queueStore, transport, auditLog,
		dispatch.WithTickInterval(cfg.DispatcherTick()),
		dispatch.WithAttemptTimeouts(cfg.AttemptTimeoutFlash(), cfg.AttemptTimeoutOther()),
		dispatch.WithBackoff(cfg.BackoffBase(), cfg.BackoffMax()),
		dispatch.WithMaxAttempts(cfg.MaxAttempts),
	)

	svc := gateway.NewService(queueStore, auditLog, sealer, tokens, limiter, nodes, worker,
		gateway.RateLimits{
			FlashPerMinute: cfg.RateLimit.FlashPerMinute,
			OtherPerMinute: cfg.RateLimit.OtherPerMinute,
			ReadsPerMinute: cfg.RateLimit.ReadsPerMinute,
		},
		gateway.Watermarks{
			Flash:     cfg.Watermarks.Flash,
			Immediate: cfg.Watermarks.Immediate,
			Priority:  cfg.Watermarks.Priority,
			Routine:   cfg.Watermarks.Routine,
		},
	)

	srv := httpapi.NewServer(cfg.HTTPAddr, svc)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		worker.Stop()
		_ = httpServer.Shutdown(context.Background())
	}()
	go worker.Run(ctx)

	log.Printf("tacedge-gateway listening on %s", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server exited: %v", err)
	}
}
