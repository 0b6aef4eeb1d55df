package constants

// OCRStatus is the canonical OCR state of a document row.
type OCRStatus string

// Stable values (store these exact strings in DB).
const (
	OCRStatusPending   OCRStatus = "PENDING"   // uploaded or reset by backfill, waiting for a poller
	OCRStatusSucceeded OCRStatus = "SUCCEEDED" // extracted_text holds usable text
	OCRStatusFailed    OCRStatus = "FAILED"    // failure_reason explains why
	OCRStatusSkipped   OCRStatus = "SKIPPED"   // nothing to extract (unsupported or empty)
)

// IsTerminal reports whether a poller is done with the document.
func (s OCRStatus) IsTerminal() bool {
	switch s {
	case OCRStatusSucceeded, OCRStatusFailed, OCRStatusSkipped:
		return true
	}
	return false
}

// Document families. Each family has its own table but the same OCR state machine.
const (
	FamilyDocRepo    = "docrepo"
	FamilyProject    = "project"
	FamilyAttachment = "attachment"
)

// Families lists every known document family in polling order.
var Families = []string{FamilyDocRepo, FamilyProject, FamilyAttachment}

// Column caps applied before a result is written back.
const (
	MaxExtractedTextChars = 200_000
	MaxFailureReasonChars = 1_000
)
