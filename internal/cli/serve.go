package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/prdflow/internal/backend"
	"github.com/aretw0/prdflow/internal/config"
	"github.com/aretw0/prdflow/pkg/adapters/file"
	"github.com/aretw0/prdflow/pkg/adapters/memory"
	redisadapter "github.com/aretw0/prdflow/pkg/adapters/redis"
	"github.com/aretw0/prdflow/pkg/persistence/middleware"
	"github.com/aretw0/prdflow/pkg/ports"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 5 * time.Second

// Serve runs the stub backend on cfg.Server.Addr until ctx ends.
func Serve(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}
	return ServeListener(ctx, ln, cfg, logOut)
}

// ServeListener runs the stub backend on ln until ctx ends, then shuts
// down gracefully, waiting for background runs.
func ServeListener(ctx context.Context, ln net.Listener, cfg config.Config, logOut io.Writer) error {
	logger := createLogger(cfg.LogLevel, logOut)

	store, locker, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		ln.Close()
		return err
	}
	defer closeStore()

	mopts := []backend.ManagerOption{
		backend.WithManagerLogger(logger),
		backend.WithLockTTL(cfg.Server.LockTTL),
	}
	sopts := []backend.Option{
		backend.WithLogger(logger),
		backend.WithDelay(cfg.Server.Delay),
		backend.WithResultDelay(cfg.Server.ResultDelay),
	}
	if locker != nil {
		mopts = append(mopts, backend.WithLocker(locker))
	}
	if p, ok := store.(backend.Pinger); ok {
		sopts = append(sopts, backend.WithPinger(p))
	}
	server := backend.NewServer(backend.NewManager(store, mopts...), sopts...)

	srv := &http.Server{Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("stub backend listening", "addr", ln.Addr().String())
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down stub backend")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
		if err := srv.Close(); err != nil {
			return fmt.Errorf("failed to close server: %w", err)
		}
	}
	server.Wait()
	return nil
}

// buildStore picks Redis when an address is configured, a directory of
// JSON files when a data dir is, and memory otherwise. A configured
// encryption key seals whatever store was picked.
func buildStore(ctx context.Context, cfg config.Config) (ports.ConversationStore, ports.DistributedLocker, func(), error) {
	var (
		store   ports.ConversationStore
		locker  ports.DistributedLocker
		cleanup = func() {}
	)
	switch {
	case cfg.Server.RedisAddr != "":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Server.RedisAddr})
		rs := redisadapter.NewFromClient(client)
		if err := rs.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Server.RedisAddr, err)
		}
		store, locker, cleanup = rs, redisadapter.NewLocker(client, "prdflow:"), func() { _ = rs.Close() }
	case cfg.Server.DataDir != "":
		fileStore := file.New(cfg.Server.DataDir)
		if err := fileStore.Ping(ctx); err != nil {
			return nil, nil, nil, err
		}
		store = fileStore
	default:
		store = memory.NewStore()
	}

	if cfg.Server.EncryptionKey == "" {
		return store, locker, cleanup, nil
	}
	enc, err := encryptionConfig(cfg.Server)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return middleware.Chain(store, middleware.NewEncryptionMiddleware(enc)), locker, cleanup, nil
}

func encryptionConfig(sc config.ServerConfig) (middleware.EncryptionConfig, error) {
	var enc middleware.EncryptionConfig
	active, err := middleware.ParseKey(sc.EncryptionKey)
	if err != nil {
		return enc, fmt.Errorf("invalid encryption key: %w", err)
	}
	enc.ActiveKey = active
	for i, k := range sc.PreviousKeys {
		old, err := middleware.ParseKey(k)
		if err != nil {
			return enc, fmt.Errorf("invalid previous encryption key %d: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, old)
	}
	return enc, nil
}
