package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Brownie44l1/indofood-api/internal/catalogue"
	"github.com/Brownie44l1/indofood-api/internal/config"
	"github.com/Brownie44l1/indofood-api/internal/handlers"
	"github.com/Brownie44l1/indofood-api/internal/model"
	"github.com/Brownie44l1/indofood-api/internal/profile"
	"github.com/Brownie44l1/indofood-api/internal/tracking"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := config.SetupLogging(cfg.LogLevel, cfg.Pretty); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}

	decimal.MarshalJSONWithoutQuotes = true

	foods := catalogue.NewStore()
	if err := foods.LoadFile(cfg.DatasetPath); err != nil {
		log.Warn().Err(err).Str("path", cfg.DatasetPath).Msg("Serving without catalogue")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := tracking.NewRegistry(openDetector(cfg),
		tracking.WithMaxSessions(cfg.MaxSessions),
		tracking.WithIdleTTL(cfg.SessionIdleTTL),
	)
	if sessions.Available() {
		defer model.ShutdownRuntime()
	}
	defer sessions.CloseAll()
	go sessions.RunReaper(ctx, time.Minute)

	handler := handlers.NewHandler(foods, profile.NewStore(), sessions)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", cfg.Addr).Msg("Server starting")
	log.Info().Msg("Endpoints:")
	log.Info().Msg("  GET    /health")
	log.Info().Msg("  GET    /foods?q=          - catalogue and search")
	log.Info().Msg("  GET    /foods/top?n=      - top rated")
	log.Info().Msg("  GET    /foods/{id}")
	log.Info().Msg("  GET    /profile, PUT /profile")
	log.Info().Msg("  POST   /tracking/sessions - start ingredient detection")
	log.Info().Msg("  POST   /tracking/sessions/{id}/frames?width=&height= - raw NV21 frame")
	log.Info().Msg("  GET    /tracking/sessions/{id}/result, /ws")
	log.Info().Msg("  POST   /tracking/sessions/{id}/image - classify an uploaded image")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server stopped")
}

// openDetector prepares the ingredient classifier. It returns nil when the
// model cannot be loaded; the rest of the API keeps working.
func openDetector(cfg config.Config) tracking.Opener {
	if err := model.InitRuntime(cfg.ORTLibrary); err != nil {
		log.Error().Err(err).Msg("Ingredient detection unavailable")
		return nil
	}

	loader := &tracking.Loader{
		ModelPath:    cfg.ModelPath,
		MetadataPath: cfg.MetadataPath,
		LabelsPath:   cfg.LabelsPath,
		Decode:       cfg.Decode,
	}
	err := loader.Prepare()
	if err == nil {
		_, err = os.Stat(cfg.ModelPath)
	}
	if err != nil {
		log.Error().Err(err).Str("model", cfg.ModelPath).Msg("Ingredient detection unavailable")
		model.ShutdownRuntime()
		return nil
	}

	log.Info().
		Str("model", cfg.ModelPath).
		Strs("labels", loader.Labels()).
		Str("decode", string(cfg.Decode)).
		Msg("Ingredient detection ready")
	return loader
}
