package proxy

import (
	"errors"
	"fmt"
)

// ProtocolError represents a failure reported across the Port.
//
// Protocol errors include:
//   - Unknown store: the port has no store with the requested id
//   - Kind mismatch: the store exists but is of a different kind
//   - Rejected write: the store refused the mutation (e.g. missing keys)
//   - Timeout: the caller's context ended before the port answered
type ProtocolError struct {
	// Code identifies the error category.
	Code ProtocolErrorCode

	// Op is the port request that failed, e.g. "HandleStore".
	Op string

	// StoreID identifies the target store.
	StoreID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ProtocolErrorCode categorizes protocol errors.
type ProtocolErrorCode string

const (
	// ErrCodeUnknownStore indicates the port has no such store.
	ErrCodeUnknownStore ProtocolErrorCode = "UNKNOWN_STORE"

	// ErrCodeKindMismatch indicates a request for the wrong store kind.
	ErrCodeKindMismatch ProtocolErrorCode = "KIND_MISMATCH"

	// ErrCodeRejected indicates the store refused the request.
	ErrCodeRejected ProtocolErrorCode = "REJECTED"

	// ErrCodeTimeout indicates the caller stopped waiting.
	ErrCodeTimeout ProtocolErrorCode = "TIMEOUT"
)

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %s: %s: %v", e.Code, e.Op, e.StoreID, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %s", e.Code, e.Op, e.StoreID, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError creates a ProtocolError.
func NewProtocolError(code ProtocolErrorCode, op, storeID string, err error) *ProtocolError {
	msg := map[ProtocolErrorCode]string{
		ErrCodeUnknownStore: "no such store",
		ErrCodeKindMismatch: "store kind does not match request",
		ErrCodeRejected:     "store rejected request",
		ErrCodeTimeout:      "request abandoned",
	}[code]
	return &ProtocolError{Code: code, Op: op, StoreID: storeID, Message: msg, Err: err}
}

// IsUnknownStoreError returns true if err is an unknown-store protocol
// error. Uses errors.As to handle wrapped errors.
func IsUnknownStoreError(err error) bool {
	return hasCode(err, ErrCodeUnknownStore)
}

// IsKindMismatchError returns true if err is a kind-mismatch protocol
// error.
func IsKindMismatchError(err error) bool {
	return hasCode(err, ErrCodeKindMismatch)
}

// IsRejectedError returns true if err is a rejected-request protocol error.
func IsRejectedError(err error) bool {
	return hasCode(err, ErrCodeRejected)
}

// IsTimeoutError returns true if err is a timeout protocol error.
func IsTimeoutError(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

func hasCode(err error, code ProtocolErrorCode) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
