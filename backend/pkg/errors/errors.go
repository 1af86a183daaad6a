package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeAgent represents generative/LLM failures and bad tool selections
	ErrorTypeAgent ErrorType = "agent"
	// ErrorTypeQuery represents generated-query failures (empty, uncorrectable, syntax)
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeHistory represents conversation history store errors
	ErrorTypeHistory ErrorType = "history"
	// ErrorTypeRetrieval represents retrieval strategy errors
	ErrorTypeRetrieval ErrorType = "retrieval"
	// ErrorTypeTool represents tool execution errors
	ErrorTypeTool ErrorType = "tool"
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

// Kind returns the error category
func (e *BaseError) Kind() ErrorType {
	return e.Type
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

// kinded is satisfied by BaseError and every type embedding it
type kinded interface {
	Kind() ErrorType
}

// Agent Errors

// ErrAgentLLMFailed is returned when an LLM request fails
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

// ErrAgentNoResponse is returned when the LLM returns no choices
var ErrAgentNoResponse = NewBaseError(ErrorTypeAgent, "no response from LLM", nil)

// ErrAgentInvalidToolCall is returned when the model asks for a tool that does not exist
type ErrAgentInvalidToolCall struct {
	*BaseError
	ToolName string
	Reason   string
}

func NewAgentInvalidToolCall(toolName, reason string) *ErrAgentInvalidToolCall {
	return &ErrAgentInvalidToolCall{
		BaseError: NewBaseError(ErrorTypeAgent, fmt.Sprintf("invalid tool call: %s (%s)", toolName, reason), nil),
		ToolName:  toolName,
		Reason:    reason,
	}
}

// Query Errors

// ErrQueryInvalid is returned when a generated query is empty, cannot be
// corrected against the schema, or is rejected by the database
type ErrQueryInvalid struct {
	*BaseError
	Query  string
	Reason string
}

func NewQueryInvalid(query, reason string, err error) *ErrQueryInvalid {
	return &ErrQueryInvalid{
		BaseError: NewBaseError(ErrorTypeQuery, fmt.Sprintf("invalid query: %s", reason), err),
		Query:     query,
		Reason:    reason,
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph query fails
type ErrGraphQueryFailed struct {
	*BaseError
	Query string
}

func NewGraphQueryFailed(query string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, "query failed", err),
		Query:     query,
	}
}

// History Errors

// ErrHistoryFailed is returned when the history store cannot read or append
type ErrHistoryFailed struct {
	*BaseError
	Operation string
	UserID    string
	SessionID string
}

func NewHistoryFailed(operation, userID, sessionID string, err error) *ErrHistoryFailed {
	return &ErrHistoryFailed{
		BaseError: NewBaseError(ErrorTypeHistory, fmt.Sprintf("history %s failed for %s/%s", operation, userID, sessionID), err),
		Operation: operation,
		UserID:    userID,
		SessionID: sessionID,
	}
}

// Retrieval Errors

// ErrUnknownStrategy is returned when a retrieval strategy key is not registered
type ErrUnknownStrategy struct {
	*BaseError
	Key string
}

func NewUnknownStrategy(key string) *ErrUnknownStrategy {
	return &ErrUnknownStrategy{
		BaseError: NewBaseError(ErrorTypeRetrieval, fmt.Sprintf("unknown retrieval strategy: %s", key), nil),
		Key:       key,
	}
}

// ErrRetrievalFailed is returned when a retriever cannot fetch passages
type ErrRetrievalFailed struct {
	*BaseError
	Strategy string
}

func NewRetrievalFailed(strategy string, err error) *ErrRetrievalFailed {
	return &ErrRetrievalFailed{
		BaseError: NewBaseError(ErrorTypeRetrieval, fmt.Sprintf("retrieval failed: %s", strategy), err),
		Strategy:  strategy,
	}
}

// Tool Errors

// ErrToolExecutionFailed is returned when tool execution fails
type ErrToolExecutionFailed struct {
	*BaseError
	ToolName string
	Step     string
}

func NewToolExecutionFailed(toolName, step string, err error) *ErrToolExecutionFailed {
	return &ErrToolExecutionFailed{
		BaseError: NewBaseError(ErrorTypeTool, fmt.Sprintf("%s failed at %s", toolName, step), err),
		ToolName:  toolName,
		Step:      step,
	}
}

// Context Errors

// ErrContextTimeout is returned when an external call exceeds its deadline
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration, err error) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), err),
		Operation: operation,
		Timeout:   timeout,
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

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// TypeOf returns the category of the outermost typed error in the chain. Bare
// context deadline/cancel errors map to ErrorTypeContext.
func TypeOf(err error) (ErrorType, bool) {
	var k kinded
	if stderrors.As(err, &k) {
		return k.Kind(), true
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return ErrorTypeContext, true
	}
	return "", false
}

// IsErrorType checks if any error in the chain is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if k, ok := err.(kinded); ok && k.Kind() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsTimeout reports whether err was caused by an exceeded deadline
func IsTimeout(err error) bool {
	var te *ErrContextTimeout
	return stderrors.As(err, &te) || stderrors.Is(err, context.DeadlineExceeded)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) || stderrors.Is(err, context.Canceled) {
		return false
	}
	var llmErr *ErrAgentLLMFailed
	if stderrors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	// A bad query stays bad on retry
	if IsErrorType(err, ErrorTypeQuery) {
		return false
	}
	// Store unavailability may be transient
	return IsErrorType(err, ErrorTypeGraph) || IsErrorType(err, ErrorTypeHistory)
}
