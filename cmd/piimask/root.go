package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pii-mask/internal/config"
	"pii-mask/internal/logging"
	"pii-mask/internal/ocr"
	"pii-mask/internal/ocr/tesseract"
	"pii-mask/internal/services"
)

type rootOptions struct {
	configFile string
	logLevel   string

	newEngine   func(config.Config) ocr.Engine
	newDetector func(config.Config) services.Detector
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&rootOptions{
		newEngine:   tesseractEngine,
		newDetector: llmDetector,
	})
}

func buildRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "piimask",
		Short:        "Black out PII in scanned documents",
		Long:         "piimask runs OCR over images or PDFs, asks a language model which words are PII, and writes masked_<name> copies with those words blacked out.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	cmd.AddCommand(newMaskCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	return cmd
}

// load resolves configuration the same way the server does, then applies
// the global flags.
func (o *rootOptions) load() (config.Config, *logrus.Logger, error) {
	if o.configFile != "" {
		if err := os.Setenv("CONFIG_FILE", o.configFile); err != nil {
			return config.Config{}, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat), nil
}

func tesseractEngine(cfg config.Config) ocr.Engine {
	return tesseract.New(tesseract.Config{
		Languages:      cfg.OCRLanguages,
		TessdataPrefix: cfg.TessdataPrefix,
	})
}

func llmDetector(cfg config.Config) services.Detector {
	return services.NewAIService(
		cfg.OpenAIKey,
		cfg.OpenAIModel,
		cfg.OpenAIEndpoint,
		cfg.PIICategories,
		cfg.LLMTimeout,
	)
}
