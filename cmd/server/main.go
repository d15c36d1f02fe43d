package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/config"
	"github.com/dylangamachefl/portfolio-website-v3/logging"
	"github.com/dylangamachefl/portfolio-website-v3/profile"
	"github.com/dylangamachefl/portfolio-website-v3/provider"
	"github.com/dylangamachefl/portfolio-website-v3/service"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "config/config.yaml", "config file")
	port := pflag.IntP("port", "p", 0, "listen port (overrides config)")
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	prof, err := profile.Load(cfg.Profile.Path)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	ep, err := provider.New(cfg, prof)
	if err != nil {
		return err
	}
	if cfg.LLM.APIKey == "" && cfg.LLM.Provider != config.ProviderMock {
		logger.Warn("no API key in environment; conversations will fail", zap.String("env", cfg.LLM.APIKeyEnv))
	}

	mgr := service.NewManager(ep, prof).
		WithPolicy(cfg.RetryPolicy()).
		WithLogger(logger).
		WithLimit(cfg.Server.MaxSessions).
		WithTurnTimeout(cfg.TurnTimeout()).
		WithTranscriptDir(cfg.Transcripts.Dir)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           service.NewRouter(mgr, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		idle := cfg.SessionIdle()
		if idle <= 0 {
			<-ctx.Done()
			return nil
		}
		return mgr.RunPruner(ctx, idle/2, idle)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
