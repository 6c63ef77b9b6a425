package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/andrewreder/x402-paywall/go-api/config"
	httpapi "github.com/andrewreder/x402-paywall/go-api/http-api"
	"github.com/andrewreder/x402-paywall/go-api/logging"
	"github.com/andrewreder/x402-paywall/go-api/x402"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	verifier := x402.NewFacilitatorVerifier(
		x402.NewFacilitatorClient(cfg.FacilitatorURL, cfg.CDPAPIKey, cfg.CDPAPIKeySecret),
		cfg.SettlePayments,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router, err := httpapi.NewRouter(httpapi.Deps{
		Config:   cfg,
		Logger:   logger,
		Verifier: verifier,
		Registry: registry,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure routes")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("network", cfg.Network).
			Str("facilitator", cfg.FacilitatorURL).
			Msg("paywall listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("serve")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("HTTP server stopped")
}
