package ocr

import "github.com/joseph-ayodele/docs-ocr-ingest/internal/common"

// ResultKind tells the caller how an escalation run ended.
type ResultKind int

const (
	// NotApplicable means the input is not something OCR can work on (not a PDF).
	NotApplicable ResultKind = iota
	Success
	Failure
)

func (k ResultKind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "not_applicable"
	}
}

// FailureCode classifies a Failure result.
type FailureCode string

const (
	CodeToolUnavailable FailureCode = common.CodeToolUnavailable
	CodeNoSidecar       FailureCode = common.CodeNoSidecar
	CodeUnusableText    FailureCode = common.CodeUnusableText
	CodeUnexpected      FailureCode = common.CodeUnexpected
)

// Result is the outcome of one escalation run. Expected tool outcomes are
// reported here rather than as errors.
type Result struct {
	Kind    ResultKind
	Text    string
	Reason  string
	Code    FailureCode
	LogPath string
}

func succeeded(text, logPath string) Result {
	return Result{Kind: Success, Text: text, LogPath: logPath}
}

func failed(code FailureCode, reason, logPath string) Result {
	return Result{Kind: Failure, Code: code, Reason: reason, LogPath: logPath}
}

func notApplicable(reason string) Result {
	return Result{Kind: NotApplicable, Reason: reason}
}
