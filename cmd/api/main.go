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

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"qazna.org/superadmin/internal/audit"
	"qazna.org/superadmin/internal/auth"
	"qazna.org/superadmin/internal/config"
	"qazna.org/superadmin/internal/grpcapi"
	"qazna.org/superadmin/internal/httpapi"
	"qazna.org/superadmin/internal/migrate"
	"qazna.org/superadmin/internal/obs"
	"qazna.org/superadmin/internal/ratelimit"
	"qazna.org/superadmin/internal/store/memstore"
	"qazna.org/superadmin/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("log level")
	}
	log = obs.Logger()
	obs.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	secret := cfg.TokenSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn().Msg("no token secret configured; sessions will not survive a restart")
	}
	tokens, err := auth.NewTokenIssuer(secret,
		auth.WithTokenIssuer(cfg.Issuer),
		auth.WithTokenTTL(cfg.TokenTTL.Duration),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("token issuer")
	}

	svc, err := auth.NewService(store, tokens,
		auth.WithAuditor(audit.NewRecorder(store)),
		auth.WithLockoutPolicy(auth.LockoutPolicy{Threshold: cfg.LockoutThreshold, Window: cfg.LockoutWindow.Duration}),
		auth.WithPasswordPolicy(auth.PasswordPolicy{MinLength: cfg.PasswordMinLength}),
		auth.WithBcryptCost(cfg.BcryptCost),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("auth service")
	}
	if created, err := svc.Bootstrap(ctx, cfg.BootstrapEmail, cfg.BootstrapPassword); err != nil {
		log.Fatal().Err(err).Msg("bootstrap")
	} else if !created {
		log.Debug().Msg("bootstrap skipped")
	}

	opts := httpapi.Options{
		Version:      version,
		Production:   cfg.Production(),
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
	if cfg.RatePerSecond > 0 {
		opts.Limiter = ratelimit.NewMemory(float64(cfg.RatePerSecond), cfg.RateBurst)
	}
	var rdb *redis.Client
	if cfg.LoginRateLimit > 0 {
		if cfg.RedisURL != "" {
			redisOpts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				log.Fatal().Err(err).Msg("parse redis url")
			}
			rdb = redis.NewClient(redisOpts)
			if err := rdb.Ping(ctx).Err(); err != nil {
				log.Warn().Err(err).Msg("redis unreachable; login throttle fails open until it recovers")
			}
			opts.LoginLimiter = ratelimit.NewRedis(rdb, "superadmin:login:", cfg.LoginRateLimit, cfg.LoginRateWindow.Duration)
		} else {
			opts.LoginLimiter = ratelimit.NewMemoryWindow(cfg.LoginRateLimit, cfg.LoginRateWindow.Duration)
		}
	}

	api := httpapi.New(svc, opts)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcapi.UnaryLogger))
	health := grpcapi.Register(grpcSrv, grpcapi.NewServer(tokens))

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Str("version", version).Str("env", cfg.Env).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
		}
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	health.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	grpcSrv.GracefulStop()
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info().Msg("stopped")
}

func openStore(ctx context.Context, cfg config.Config) (auth.Store, error) {
	if cfg.PGDSN == "" {
		if cfg.Production() {
			return nil, errors.New("SUPERADMIN_PG_DSN is required in production")
		}
		obs.Logger().Warn().Msg("no database configured; using in-memory store")
		return memstore.New(), nil
	}
	store, err := pg.Open(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		applied, err := migrate.NewManager(store.DB(), migrate.Embedded()).Up(ctx)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		for _, name := range applied {
			obs.Logger().Info().Str("migration", name).Msg("applied")
		}
	}
	return store, nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
