package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pii-mask/internal/imaging"
	"pii-mask/internal/logging"
	"pii-mask/internal/models"
	"pii-mask/internal/ocr"
)

// ProgressCallback is called during masking to report progress
type ProgressCallback func(step, message string, current, total int)

// MaskingConfig wires the collaborators of the pipeline. OCR, Detector and
// Store are required.
type MaskingConfig struct {
	OCR        ocr.Engine
	Detector   Detector
	Matcher    Matcher
	Store      *UploadStore
	PDF        *PDFService
	Runs       RunRecorder
	FailClosed bool
	Logger     logrus.FieldLogger
}

// MaskingService runs the OCR, PII detection, box fill and save sequence.
type MaskingService struct {
	ocr        ocr.Engine
	detector   Detector
	matcher    Matcher
	store      *UploadStore
	pdf        *PDFService
	runs       RunRecorder
	failClosed bool
	log        logrus.FieldLogger
}

// MaskResult describes one masked raster.
type MaskResult struct {
	RunID          string            `json:"runId"`
	OriginalName   string            `json:"originalName"`
	InputPath      string            `json:"-"`
	MaskedName     string            `json:"maskedName"`
	MaskedPath     string            `json:"maskedPath"`
	Page           int               `json:"page,omitempty"`
	Tokens         []ocr.Token       `json:"-"`
	TokenCount     int               `json:"tokenCount"`
	PIIWords       []string          `json:"piiWords"`
	Boxes          []image.Rectangle `json:"-"`
	MaskedBoxCount int               `json:"maskedBoxCount"`
	Detection      Detection         `json:"detection"`
	Duration       time.Duration     `json:"-"`
}

func NewMaskingService(cfg MaskingConfig) (*MaskingService, error) {
	if cfg.OCR == nil {
		return nil, errors.New("ocr engine is required")
	}
	if cfg.Detector == nil {
		return nil, errors.New("pii detector is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("upload store is required")
	}
	if cfg.Matcher == nil {
		cfg.Matcher = ExactMatcher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &MaskingService{
		ocr:        cfg.OCR,
		detector:   cfg.Detector,
		matcher:    cfg.Matcher,
		store:      cfg.Store,
		pdf:        cfg.PDF,
		runs:       cfg.Runs,
		failClosed: cfg.FailClosed,
		log:        cfg.Logger,
	}, nil
}

// Store exposes the upload store, e.g. for building public URLs.
func (s *MaskingService) Store() *UploadStore {
	return s.store
}

// Mask persists one uploaded image, masks it and writes masked_<filename>
// next to it. The format comes from the extension, or from the content when
// the extension is missing or unknown. WebP input is written back as PNG.
func (s *MaskingService) Mask(ctx context.Context, src io.Reader, filename string, progress ProgressCallback) (*MaskResult, error) {
	name := SanitizeFilename(filename)
	if name == "" {
		return nil, newUploadInvalidError(filename, ErrUploadMissing)
	}
	format, err := imaging.FormatFromName(name)
	if err != nil {
		// Unknown or missing extension: trust the bytes instead.
		data, readErr := io.ReadAll(src)
		if readErr != nil {
			return nil, newUploadInvalidError(name, readErr)
		}
		if format, err = imaging.Sniff(data); err != nil {
			return nil, newUnsupportedFormatError(name, err)
		}
		src = bytes.NewReader(data)
	}

	report(progress, "persist", "Saving upload", 5)
	upload, err := s.store.Save(name, src)
	if err != nil {
		return nil, newWriteFailedError(name, err)
	}

	return s.maskStored(ctx, upload, format, 0, progress)
}

// MaskDocument masks an image upload, or each page of a PDF upload in page
// order. It stops at the first failing page and returns the pages done so far.
func (s *MaskingService) MaskDocument(ctx context.Context, src io.Reader, filename string, progress ProgressCallback) ([]*MaskResult, error) {
	if !IsPDF(filename) {
		result, err := s.Mask(ctx, src, filename, progress)
		if err != nil {
			return nil, err
		}
		return []*MaskResult{result}, nil
	}

	name := SanitizeFilename(filename)
	if name == "" {
		return nil, newUploadInvalidError(filename, ErrUploadMissing)
	}
	if s.pdf == nil {
		return nil, newUnsupportedFormatError(name, errors.New("pdf support is disabled"))
	}

	report(progress, "persist", "Saving upload", 2)
	upload, err := s.store.Save(name, src)
	if err != nil {
		return nil, newWriteFailedError(name, err)
	}

	report(progress, "render", "Rendering PDF pages", 5)
	pages, err := s.pdf.RenderPages(ctx, upload.Path, upload.Dir)
	if err != nil {
		return nil, newPDFRenderFailedError(name, err)
	}

	s.log.WithFields(logrus.Fields{"filename": name, "pages": len(pages)}).Info("rendered pdf")

	results := make([]*MaskResult, 0, len(pages))
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := s.maskStored(ctx, s.store.Adopt(page.Path), imaging.PNG, page.PageNumber, pageProgress(progress, page.PageNumber, len(pages)))
		if err != nil {
			return results, fmt.Errorf("page %d: %w", page.PageNumber, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *MaskingService) maskStored(ctx context.Context, upload StoredUpload, format imaging.Format, page int, progress ProgressCallback) (result *MaskResult, err error) {
	start := time.Now()
	result = &MaskResult{
		RunID:        uuid.NewString(),
		OriginalName: upload.Name,
		InputPath:    upload.Path,
		MaskedName:   MaskedName(upload.Name),
		Page:         page,
	}
	log := s.log.WithFields(logrus.Fields{
		"run_id":   result.RunID,
		"filename": upload.Name,
	})

	defer func() {
		result.Duration = time.Since(start)
		s.record(ctx, result, err, log)
	}()

	report(progress, "decode", "Loading image", 15)
	img, err := decodeFile(upload.Path, format)
	if err != nil {
		return result, newDecodeFailedError(upload.Name, err)
	}

	report(progress, "ocr", "Extracting text", 30)
	ocrResult, err := s.ocr.Recognize(ctx, upload.Path)
	if err != nil {
		return result, newOCRFailedError(upload.Name, s.ocr.Name(), err)
	}
	result.Tokens = ocrResult.Tokens
	result.TokenCount = len(ocrResult.Tokens)

	report(progress, "detect", "Identifying PII", 60)
	detection := s.detector.Detect(ctx, ocrResult.AllText())
	result.Detection = detection
	if !detection.OK() {
		dlog := log.WithError(detection.Err).WithField("outcome", detection.Outcome)
		if s.failClosed {
			dlog.Error("pii detection failed, no masked copy written")
			return result, newDetectionFailedError(upload.Name, detection.Outcome, detection.Err)
		}
		dlog.Warn("pii detection failed, continuing with an empty word list")
	}
	result.PIIWords = detection.Words

	report(progress, "draw", "Masking PII", 85)
	result.Boxes = MatchBoxes(ocrResult.Tokens, detection.Words, s.matcher)
	result.MaskedBoxCount = len(result.Boxes)
	masked := imaging.FillBoxes(img, result.Boxes)

	report(progress, "save", "Saving masked image", 95)
	outPath := upload.OutputPath()
	if err := encodeFile(outPath, masked, imaging.OutputFormat(format)); err != nil {
		return result, newWriteFailedError(upload.Name, err)
	}
	result.MaskedPath = outPath

	log.WithFields(logrus.Fields{
		"tokens":    result.TokenCount,
		"pii_words": len(result.PIIWords),
		"boxes":     result.MaskedBoxCount,
		"detection": detection.Outcome,
	}).Info("masked image")
	return result, nil
}

// MatchBoxes returns the box of every token the matcher accepts, in token
// order. Duplicate texts each contribute their own box.
func MatchBoxes(tokens []ocr.Token, words []string, matcher Matcher) []image.Rectangle {
	if len(words) == 0 {
		return nil
	}
	var boxes []image.Rectangle
	for _, tok := range tokens {
		if matcher.Match(tok.Text, words) {
			boxes = append(boxes, tok.Box())
		}
	}
	return boxes
}

func (s *MaskingService) record(ctx context.Context, result *MaskResult, runErr error, log logrus.FieldLogger) {
	if s.runs == nil {
		return
	}

	run := &models.MaskRun{
		ID:             result.RunID,
		OriginalName:   result.OriginalName,
		InputPath:      result.InputPath,
		MaskedName:     result.MaskedName,
		Status:         models.RunMasked,
		TokenCount:     result.TokenCount,
		PIIWordCount:   len(result.PIIWords),
		MaskedBoxCount: result.MaskedBoxCount,
		Detection:      string(result.Detection.Outcome),
		Matcher:        s.matcher.Name(),
		DurationMs:     result.Duration.Milliseconds(),
		CreatedAt:      time.Now().UTC(),
	}
	if result.MaskedPath != "" {
		run.MaskedPath = sql.NullString{String: result.MaskedPath, Valid: true}
	}
	if msg := result.Detection.ErrorMessage(); msg != "" {
		run.DetectionError = sql.NullString{String: msg, Valid: true}
	}
	if runErr != nil {
		run.Status = models.RunFailed
		if code := CodeOf(runErr); code != "" {
			run.ErrorCode = sql.NullString{String: string(code), Valid: true}
		}
	}

	if err := s.runs.Record(context.WithoutCancel(ctx), run); err != nil {
		log.WithError(err).Error("failed to record mask run")
	}
}

func decodeFile(path string, format imaging.Format) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return imaging.Decode(f, format)
}

func encodeFile(path string, img image.Image, format imaging.Format) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if err := imaging.Encode(out, img, format); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func report(progress ProgressCallback, step, message string, pct int) {
	if progress != nil {
		progress(step, message, pct, 100)
	}
}

func pageProgress(progress ProgressCallback, page, total int) ProgressCallback {
	if progress == nil {
		return nil
	}
	return func(step, message string, current, _ int) {
		pct := 5 + (95*(page-1)+95*current/100)/total
		progress(step, fmt.Sprintf("Page %d of %d: %s", page, total, message), pct, 100)
	}
}
