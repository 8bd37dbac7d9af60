package models

import (
	"database/sql"
	"time"
)

// MaskRun is the ledger record of one pipeline run over one raster.
type MaskRun struct {
	ID             string
	OriginalName   string
	InputPath      string
	MaskedName     string
	MaskedPath     sql.NullString
	Status         RunStatus
	ErrorCode      sql.NullString
	TokenCount     int
	PIIWordCount   int
	MaskedBoxCount int
	Detection      string
	DetectionError sql.NullString
	Matcher        string
	DurationMs     int64
	CreatedAt      time.Time
}

type RunStatus string

const (
	RunMasked RunStatus = "masked"
	RunFailed RunStatus = "failed"
)

// PageImage is one rasterized page of a multi-page upload.
type PageImage struct {
	PageNumber int
	Path       string
}
