package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pii-mask/internal/api"
	"pii-mask/internal/config"
	"pii-mask/internal/db"
	"pii-mask/internal/logging"
	"pii-mask/internal/ocr/tesseract"
	"pii-mask/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server failed")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	if cfg.OpenAIKey == "" {
		logger.Warn("API_KEY is not set, every upload will pass through unmasked")
	}

	matcher, err := services.NewMatcher(cfg.Matcher)
	if err != nil {
		return err
	}

	runService := services.NewRunService(conn)
	maskingService, err := services.NewMaskingService(services.MaskingConfig{
		OCR: tesseract.New(tesseract.Config{
			Languages:      cfg.OCRLanguages,
			TessdataPrefix: cfg.TessdataPrefix,
		}),
		Detector: services.NewAIService(
			cfg.OpenAIKey,
			cfg.OpenAIModel,
			cfg.OpenAIEndpoint,
			cfg.PIICategories,
			cfg.LLMTimeout,
		),
		Matcher:    matcher,
		Store:      services.NewUploadStore(cfg.UploadDir, cfg.IsolateUploads),
		PDF:        services.NewPDFService(cfg.PDFDPI),
		Runs:       runService,
		FailClosed: cfg.FailPolicy == "closed",
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// One OCR pass plus one LLM call per raster; the form and /api/mask routes
	// extend the write deadline by this much for every page they mask.
	pageTimeout := cfg.LLMTimeout + 60*time.Second

	urlPrefix := cfg.MaskedURLPrefix()
	server := api.NewServer(maskingService, runService, api.Options{
		MaskedURLPrefix: urlPrefix,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		PageTimeout:     pageTimeout,
		Logger:          logger,
	})

	staticFS := http.FileServer(http.Dir(cfg.StaticDir))
	server.Mount("/static/", http.StripPrefix("/static/", staticFS))
	if urlPrefix == "/masked/" {
		maskedFS := http.FileServer(http.Dir(cfg.UploadDir))
		server.Mount("/masked/", http.StripPrefix("/masked/", maskedFS))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: pageTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":       cfg.Port,
			"upload_dir": cfg.UploadDir,
			"matcher":    matcher.Name(),
			"fail":       cfg.FailPolicy,
		}).Info("listening")
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
