package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/config"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/export"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/extraction"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/heuristics"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/server"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/storage"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/store"
	"github.com/DiputacionSevilla/diputacion-facturas/pkg/database"
	"github.com/DiputacionSevilla/diputacion-facturas/pkg/utils"
)

func main() {
	// Credentials come from .env in development, real env in production
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting invoice capture service",
		zap.String("backend", cfg.Extraction.Backend),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	persistence, err := store.NewSQLiteStore(db)
	if err != nil {
		logger.Fatal("Failed to initialize invoice persistence", zap.Error(err))
	}

	areas := make([]store.Area, 0, len(cfg.Areas))
	for _, a := range cfg.Areas {
		areas = append(areas, store.Area{Code: a.Code, Name: a.Name})
	}

	invoices, err := store.New(persistence, areas, logger)
	if err != nil {
		logger.Fatal("Failed to load invoice store", zap.Error(err))
	}

	files, err := storage.NewFileStore(cfg.Storage.UploadDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize file storage", zap.Error(err))
	}

	engine := heuristics.NewEngine(cfg.Extraction.VATPercent, logger)
	recognizer := extraction.NewTesseractRecognizer(cfg.OCR.Language)

	backends := map[extraction.Kind]extraction.Backend{
		extraction.KindLocal: extraction.NewLocalBackend(engine, recognizer, cfg.OCR.Scale, logger),
		extraction.KindRemote: extraction.NewAzureBackend(extraction.AzureConfig{
			Endpoint:               cfg.Azure.Endpoint,
			APIKey:                 cfg.Azure.APIKey,
			ModelID:                cfg.Azure.ModelID,
			APIVersion:             cfg.Azure.APIVersion,
			PollInterval:           cfg.Azure.PollInterval,
			MaxAttempts:            cfg.Azure.MaxAttempts,
			SearchablePollInterval: cfg.Azure.SearchablePollInterval,
			SearchableMaxAttempts:  cfg.Azure.SearchableMaxAttempts,
		}, cfg.Extraction.VATPercent, logger),
	}

	orchestrator := extraction.NewOrchestrator(
		backends,
		extraction.Kind(cfg.Extraction.Backend),
		files,
		cfg.Extraction.VATPercent,
		logger,
	)

	exporter := export.NewService(logger)

	srv := server.NewServer(cfg.Server, invoices, orchestrator, exporter, files, cfg.Extraction.SearchablePDF, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down server...")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
