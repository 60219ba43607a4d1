package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"voice-relay/pkg/api"
	"voice-relay/pkg/budget"
	"voice-relay/pkg/config"
	"voice-relay/pkg/providers"
	"voice-relay/pkg/session"
	"voice-relay/pkg/stage"
	"voice-relay/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := storage.NewDiskStore(cfg.StoragePath)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	transcribers, err := providers.BuildTranscribers(cfg.Providers.Transcribers)
	if err != nil {
		logrus.Fatalf("Failed to build transcriber chain: %v", err)
	}
	translators, err := providers.BuildTranslators(cfg.Providers.Translators)
	if err != nil {
		logrus.Fatalf("Failed to build translator chain: %v", err)
	}
	synthesizers, err := providers.BuildSynthesizers(cfg.Providers.Synthesizers)
	if err != nil {
		logrus.Fatalf("Failed to build synthesizer chain: %v", err)
	}

	adapter := stage.NewAdapter(
		stage.Chains{
			Transcribers: transcribers,
			Translators:  translators,
			Synthesizers: synthesizers,
		},
		budget.FromConfig(cfg.Budgets),
		stage.WithNoiseProcessor(providers.NewSpectralNoiseGate(), cfg.Pipeline.NoiseThreshold),
		stage.WithTranslationCache(cfg.Pipeline.CacheSize),
	)

	detector := providers.NewEnergyVoiceDetector(cfg.Pipeline.VoiceThreshold)

	manager := session.NewManager(cfg, adapter, detector, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)

	handlers := api.NewHandlers(manager, store)
	router := mux.NewRouter()
	handlers.Register(router)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logrus.Infof("Server starting on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Drain live sessions before taking the listener down.
	manager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}
