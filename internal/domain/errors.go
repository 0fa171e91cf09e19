package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeBudgetExceeded   = "BUDGET_EXCEEDED"
	ErrCodeSourceFetch      = "SOURCE_FETCH_ERROR"
	ErrCodeToolRejected     = "TOOL_INPUT_REJECTED"
	ErrCodeActionFailed     = "ACTION_EXECUTION_ERROR"
	ErrCodeStreamProtocol   = "STREAM_PROTOCOL_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidSourceType  = NewDomainError(ErrCodeValidation, "invalid source type")
	ErrMissingScrapeID    = NewDomainError(ErrCodeValidation, "missing scrape id")
	ErrMissingIdentifiers = NewDomainError(ErrCodeValidation, "source config has no identifiers")
	ErrInvalidExcludeRule = NewDomainError(ErrCodeValidation, "invalid exclude pattern")
)

// Not found errors
var (
	ErrGroupNotFound   = NewDomainError(ErrCodeNotFound, "knowledge group not found")
	ErrActionNotFound  = NewDomainError(ErrCodeNotFound, "action definition not found")
	ErrSessionNotFound = NewDomainError(ErrCodeNotFound, "chat session not found")
)

// Run-level errors
var (
	// ErrBudgetExhausted aborts an ingestion run before any item is emitted
	ErrBudgetExhausted = NewDomainError(ErrCodeBudgetExceeded, "ingestion budget exhausted")
)

// Tool errors
var (
	ErrIdentityNotVerified = NewDomainError(ErrCodeToolRejected, "session identity is not verified")
	ErrDerivedValueMissing = NewDomainError(ErrCodeToolRejected, "derived parameter has no session value")
)

// Operation errors
var (
	ErrGroupAlreadyRunning = NewDomainError(ErrCodeInvalidOperation, "knowledge group is already processing")
	ErrTurnInFlight        = NewDomainError(ErrCodeInvalidOperation, "a query is already in flight for this session")
)
