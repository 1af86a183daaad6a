package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsErrorType_WalksWrappedChain(t *testing.T) {
	inner := NewQueryInvalid("MATCH (n) RETURN", "syntax error", nil)
	wrapped := NewToolExecutionFailed("graph_tool", "execute", fmt.Errorf("run: %w", inner))

	assert.True(t, IsErrorType(wrapped, ErrorTypeTool))
	assert.True(t, IsErrorType(wrapped, ErrorTypeQuery))
	assert.False(t, IsErrorType(wrapped, ErrorTypeHistory))
}

func TestTypeOf(t *testing.T) {
	kind, ok := TypeOf(fmt.Errorf("outer: %w", NewUnknownStrategy("nope")))
	assert.True(t, ok)
	assert.Equal(t, ErrorTypeRetrieval, kind)

	kind, ok = TypeOf(fmt.Errorf("llm: %w", context.DeadlineExceeded))
	assert.True(t, ok)
	assert.Equal(t, ErrorTypeContext, kind)

	_, ok = TypeOf(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewGraphQueryFailed("MATCH (n) RETURN n", fmt.Errorf("connection reset"))))
	assert.True(t, IsRetryable(NewHistoryFailed("append", "1", "1", fmt.Errorf("redis down"))))
	assert.False(t, IsRetryable(NewQueryInvalid("", "empty query", nil)))
	assert.False(t, IsRetryable(NewContextTimeout("llm", time.Second, context.DeadlineExceeded)))
	assert.True(t, IsRetryable(NewAgentLLMFailed("gpt-4", 3, true, fmt.Errorf("503"))))
	assert.False(t, IsRetryable(NewAgentLLMFailed("gpt-4", 1, false, fmt.Errorf("400"))))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(NewContextTimeout("graph query", time.Second, nil)))
	assert.True(t, IsTimeout(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.False(t, IsTimeout(fmt.Errorf("other")))
}
