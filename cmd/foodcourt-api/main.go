// README: Entry point; loads config, wires module services, starts the HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"foodcourt/internal/config"
	httptransport "foodcourt/internal/http"
	"foodcourt/internal/infra"
	"foodcourt/internal/modules/directory"
	"foodcourt/internal/modules/location"
	"foodcourt/internal/modules/matching"
	"foodcourt/internal/modules/order"
	"foodcourt/internal/notify"
)

func main() {
	cfg, err := config.Load(os.Getenv("FOODCOURT_CONFIG"))
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var verifier infra.TokenVerifier
	if cfg.Firebase.ProjectID != "" {
		verifier, err = infra.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal().Err(err).Msg("firebase init")
		}
	} else if !cfg.IsDevelopment() {
		logger.Fatal().Msg("FOODCOURT_FIREBASE_PROJECT_ID is required outside development")
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis)
	defer func() { _ = redisClient.Close() }()

	registry := notify.NewRegistry(logger)

	dirStore := directory.NewStore(dbPool)
	orderStore := order.NewSQLStore(dbPool)
	matchingStore := matching.NewStore(redisClient)

	matchingSvc := matching.NewService(matchingStore, orderStore, dirStore, cfg.Matching, logger)
	locationSvc := location.NewService(matchingStore, location.NewStore(dbPool), logger)
	orderSvc := order.NewService(order.ServiceDeps{
		Store:    orderStore,
		Dir:      dirStore,
		Matcher:  matchingSvc,
		Locator:  matchingStore,
		Dispatch: registry,
		Fees:     cfg.Fee,
		RadiusKm: cfg.Matching.RadiusKm,
		Logger:   logger,
	})

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Order:    orderSvc,
		Location: locationSvc,
		Registry: registry,
		Verifier: verifier,
		Config:   cfg,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}
