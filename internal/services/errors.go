package services

import (
	"errors"
	"fmt"
)

// ErrorCode classifies pipeline failures.
type ErrorCode string

const (
	ErrorUploadInvalid     ErrorCode = "UPLOAD_INVALID"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorDecodeFailed      ErrorCode = "DECODE_FAILED"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorDetectionFailed   ErrorCode = "DETECTION_FAILED"
	ErrorWriteFailed       ErrorCode = "WRITE_FAILED"
	ErrorPDFRenderFailed   ErrorCode = "PDF_RENDER_FAILED"
)

var (
	// ErrUploadMissing means the request carried no file or an empty filename.
	ErrUploadMissing = errors.New("no image uploaded")
)

// MaskError is a structured pipeline failure.
type MaskError struct {
	Code     ErrorCode
	Message  string
	Filename string
	Cause    error
}

func (e *MaskError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *MaskError) Unwrap() error {
	return e.Cause
}

// ClientFault reports whether the failure came from the input rather than the
// server, which the HTTP layer maps to a 4xx status.
func (e *MaskError) ClientFault() bool {
	switch e.Code {
	case ErrorUploadInvalid, ErrorUnsupportedFormat, ErrorDecodeFailed, ErrorPDFRenderFailed:
		return true
	}
	return false
}

// CodeOf returns the code of the first MaskError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var me *MaskError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

func newUploadInvalidError(filename string, cause error) *MaskError {
	return &MaskError{
		Code:     ErrorUploadInvalid,
		Message:  "upload could not be stored",
		Filename: filename,
		Cause:    cause,
	}
}

func newUnsupportedFormatError(filename string, cause error) *MaskError {
	return &MaskError{
		Code:     ErrorUnsupportedFormat,
		Message:  fmt.Sprintf("unsupported file type for %s", filename),
		Filename: filename,
		Cause:    cause,
	}
}

func newDecodeFailedError(filename string, cause error) *MaskError {
	return &MaskError{
		Code:     ErrorDecodeFailed,
		Message:  fmt.Sprintf("could not read image %s", filename),
		Filename: filename,
		Cause:    cause,
	}
}

func newOCRFailedError(filename, engine string, cause error) *MaskError {
	return &MaskError{
		Code:     ErrorOCRFailed,
		Message:  fmt.Sprintf("OCR failed with engine %s", engine),
		Filename: filename,
		Cause:    cause,
	}
}

func newDetectionFailedError(filename string, outcome DetectionOutcome, cause error) *MaskError {
	return &MaskError{
		Code:     ErrorDetectionFailed,
		Message:  fmt.Sprintf("PII detection failed (%s); refusing to write an unmasked copy", outcome),
		Filename: filename,
		Cause:    cause,
	}
}

func newWriteFailedError(filename string, cause error) *MaskError {
	return &MaskError{
		Code:     ErrorWriteFailed,
		Message:  "failed to write masked image",
		Filename: filename,
		Cause:    cause,
	}
}

func newPDFRenderFailedError(filename string, cause error) *MaskError {
	return &MaskError{
		Code:     ErrorPDFRenderFailed,
		Message:  "failed to render PDF pages",
		Filename: filename,
		Cause:    cause,
	}
}
