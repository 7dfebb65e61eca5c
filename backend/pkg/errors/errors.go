package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents malformed seed records or entities
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeGraph represents in-memory graph store errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeStore represents durable graph database errors
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeRetrieval represents retrieval errors
	ErrorTypeRetrieval ErrorType = "retrieval"
	// ErrorTypeAgent represents LLM collaborator errors
	ErrorTypeAgent ErrorType = "agent"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

func (e *BaseError) base() *BaseError {
	return e
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Validation Errors

// ErrValidation is returned for a malformed seed record or entity.
// The record is rejected and the surrounding batch continues.
type ErrValidation struct {
	*BaseError
	RecordID string
	Field    string
}

func NewValidation(recordID, field, reason string) *ErrValidation {
	return &ErrValidation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid record %q: %s: %s", recordID, field, reason), nil),
		RecordID:  recordID,
		Field:     field,
	}
}

// Graph Errors

// ErrDanglingReference is returned when an edge endpoint does not exist
type ErrDanglingReference struct {
	*BaseError
	EdgeType string
	From     string
	To       string
	Missing  string
}

func NewDanglingReference(edgeType, from, to, missing string) *ErrDanglingReference {
	return &ErrDanglingReference{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("edge %s %s->%s references unknown entity %s", edgeType, from, to, missing), nil),
		EdgeType:  edgeType,
		From:      from,
		To:        to,
		Missing:   missing,
	}
}

// ErrNotFound is returned when an entity id is unknown
type ErrNotFound struct {
	*BaseError
	EntityID string
}

func NewNotFound(entityID string) *ErrNotFound {
	return &ErrNotFound{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("entity not found: %s", entityID), nil),
		EntityID:  entityID,
	}
}

// ErrConcurrentWrite is returned when a second writer tries to mutate the graph
var ErrConcurrentWrite = NewBaseError(ErrorTypeGraph, "another writer holds the graph", nil)

// ErrStoreClosed is returned for writes against a closed graph store
var ErrStoreClosed = NewBaseError(ErrorTypeGraph, "graph store closed", nil)

// Store Errors

// ErrStoreUnavailable is returned when the durable graph database cannot be reached
type ErrStoreUnavailable struct {
	*BaseError
	URI string
}

func NewStoreUnavailable(uri string, err error) *ErrStoreUnavailable {
	return &ErrStoreUnavailable{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("durable store unavailable: %s", uri), err),
		URI:       uri,
	}
}

// ErrStoreQueryFailed is returned when a graph database query fails
type ErrStoreQueryFailed struct {
	*BaseError
	Query string
}

func NewStoreQueryFailed(query string, err error) *ErrStoreQueryFailed {
	return &ErrStoreQueryFailed{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("query failed: %s", query), err),
		Query:     query,
	}
}

// Retrieval Errors

// ErrRetrievalTimeout describes a retrieval walk cut short by its deadline.
// It is logged, never returned: the caller gets partial facts instead.
type ErrRetrievalTimeout struct {
	*BaseError
	Query     string
	Collected int
}

func NewRetrievalTimeout(query string, collected int, err error) *ErrRetrievalTimeout {
	return &ErrRetrievalTimeout{
		BaseError: NewBaseError(ErrorTypeRetrieval, fmt.Sprintf("retrieval deadline exceeded after %d candidates", collected), err),
		Query:     query,
		Collected: collected,
	}
}

// Agent Errors

// ErrAgentLLMFailed is returned when LLM request fails
type ErrAgentLLMFailed struct {
	*BaseError
	Model     string
	Attempts  int
	Retryable bool
}

func NewAgentLLMFailed(model string, attempts int, retryable bool, err error) *ErrAgentLLMFailed {
	return &ErrAgentLLMFailed{
		BaseError: NewBaseError(ErrorTypeAgent, fmt.Sprintf("LLM request failed after %d attempts", attempts), err),
		Model:     model,
		Attempts:  attempts,
		Retryable: retryable,
	}
}

// ErrAgentNoResponse is returned when LLM returns no response
var ErrAgentNoResponse = NewBaseError(ErrorTypeAgent, "no response from LLM", nil)

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	if baseErr, ok := err.(*BaseError); ok {
		return baseErr.Type == errType
	}
	if typed, ok := err.(interface{ base() *BaseError }); ok {
		return typed.base().Type == errType
	}
	// Check wrapped errors
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		return IsErrorType(wrapped.Unwrap(), errType)
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	if llmErr, ok := err.(*ErrAgentLLMFailed); ok {
		return llmErr.Retryable
	}
	// Durable store outages heal on their own
	if IsErrorType(err, ErrorTypeStore) {
		return true
	}
	return false
}
