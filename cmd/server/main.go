package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/medchat/internal/ai"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/config"
	"github.com/suPer8Hu/medchat/internal/db"
	"github.com/suPer8Hu/medchat/internal/httpapi"
	"github.com/suPer8Hu/medchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/medchat/internal/logging"
	"github.com/suPer8Hu/medchat/internal/store/kv"
	"github.com/suPer8Hu/medchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/medchat/internal/store/redisstore"
	"github.com/suPer8Hu/medchat/internal/store/sqlstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var listen, logLevel string
	cmd := &cobra.Command{
		Use:           "medchat-server",
		Short:         "Serve the medical assistant chat API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if listen != "" {
				cfg.HTTPAddr = listen
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)
			if err := run(cmd.Context(), cfg); err != nil {
				log.WithError(err).Error("server stopped")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	return cmd
}

// openBackend returns the durable key-value store selected by
// STORAGE_BACKEND and a function that releases it.
func openBackend(ctx context.Context, cfg config.Config) (kv.Store, func(), error) {
	switch cfg.StorageBackend {
	case "memory":
		return kv.NewMemory(), func() {}, nil
	case "redis":
		rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, errors.Wrap(err, "redis ping")
		}
		return rs, func() { _ = rs.Close() }, nil
	case "sql", "":
		gdb, err := db.Connect(cfg.DBDSN, &sqlstore.Entry{})
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := gdb.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return sqlstore.New(gdb), closeFn, nil
	default:
		return nil, nil, errors.Errorf("unknown STORAGE_BACKEND=%q", cfg.StorageBackend)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	provider, err := ai.NewDefaultRegistry(cfg).Get(ctx, cfg.AIProvider, "")
	if err != nil {
		return err
	}

	var observer chat.TurnObserver
	if cfg.EventsEnabled {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer pub.Close()
		observer = pub
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := httpapi.NewRouter(handlers.Deps{
		Cfg:      cfg,
		Backend:  backend,
		Provider: provider,
		Observer: observer,
		Log:      log.WithField("component", "http"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":     cfg.HTTPAddr,
			"provider": cfg.AIProvider,
			"storage":  cfg.StorageBackend,
			"events":   cfg.EventsEnabled,
		}).Info("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
