// Package tesseract provides the gosseract-backed OCR engine.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"pii-mask/internal/ocr"
)

// Config holds Tesseract configuration.
type Config struct {
	Languages      []string
	TessdataPrefix string
	// Variables are passed to SetVariable before recognition.
	Variables map[string]string
}

// Engine implements ocr.Engine on top of libtesseract. A fresh client is
// created per call, so one Engine is safe to share between requests.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed OCR engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize runs word-level recognition on the image at path.
func (e *Engine) Recognize(ctx context.Context, path string) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}

	c := e.clientFactory()
	defer c.Close()

	if e.cfg.TessdataPrefix != "" {
		c.TessdataPrefix = e.cfg.TessdataPrefix
	}
	if len(e.cfg.Languages) > 0 {
		if err := c.SetLanguage(e.cfg.Languages...); err != nil {
			return ocr.Result{}, fmt.Errorf("set languages: %w", err)
		}
	}
	for k, v := range e.cfg.Variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return ocr.Result{}, fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	if err := c.SetImage(path); err != nil {
		return ocr.Result{}, fmt.Errorf("set image: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("recognize words: %w", err)
	}

	tokens := make([]ocr.Token, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		tokens = append(tokens, ocr.TokenFromRect(text, b.Box))
	}

	return ocr.Result{Engine: e.Name(), Tokens: tokens}, nil
}
