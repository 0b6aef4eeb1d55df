package entity

import (
	"time"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
)

// Document is an uploaded file of any family, together with its OCR state.
type Document struct {
	ID            string              `json:"id"`
	Family        string              `json:"family"`
	FileName      string              `json:"file_name"`
	ContentType   string              `json:"content_type"`
	StorageRef    string              `json:"storage_ref"`
	DerivativeRef *string             `json:"derivative_ref,omitempty"`
	OCRStatus     constants.OCRStatus `json:"ocr_status"`
	ExtractedText *string             `json:"extracted_text,omitempty"`
	FailureReason *string             `json:"failure_reason,omitempty"`
	LastTriedAt   *time.Time          `json:"last_tried_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Text returns the extracted text or "".
func (d *Document) Text() string {
	if d.ExtractedText == nil {
		return ""
	}
	return *d.ExtractedText
}

// Reason returns the failure reason or "".
func (d *Document) Reason() string {
	if d.FailureReason == nil {
		return ""
	}
	return *d.FailureReason
}

// ResetForReprocessing puts the document back in the queue with a clean slate.
func (d *Document) ResetForReprocessing(now time.Time) {
	d.OCRStatus = constants.OCRStatusPending
	d.ExtractedText = nil
	d.FailureReason = nil
	d.LastTriedAt = nil
	d.UpdatedAt = now
}

// Validate checks the fields every stored document needs.
func (d *Document) Validate() error {
	return common.NewValidator().
		Field("id", d.ID, common.Required, common.MaxLength(128)).
		Field("file_name", d.FileName, common.Required, common.MaxLength(1024)).
		Field("content_type", d.ContentType, common.Required).
		Field("storage_ref", d.StorageRef, common.Required).
		Field("ocr_status", d.OCRStatus, common.OneOf(
			string(constants.OCRStatusPending),
			string(constants.OCRStatusSucceeded),
			string(constants.OCRStatusFailed),
			string(constants.OCRStatusSkipped),
		)).
		Field("failure_reason", d.FailureReason, common.MaxLength(constants.MaxFailureReasonChars)).
		Error()
}
