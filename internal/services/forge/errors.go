package forge

import "fmt"

// Violation codes surfaced synchronously to the submitter. These are client
// errors; nothing about the submission is retried.
const (
	CodeTooManyFiles      = "TooManyFiles"
	CodeFileTooLarge      = "FileTooLarge"
	CodeTotalSizeExceeded = "TotalSizeExceeded"
	CodeInvalidPath       = "InvalidPath"
	CodeInvalidKind       = "InvalidKind"
	CodeUnsupportedChain  = "UnsupportedChain"
)

// ValidationError reports the first rule a submission violated.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newValidationError(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
