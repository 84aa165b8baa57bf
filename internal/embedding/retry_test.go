package embedding

import (
	"errors"
	"fmt"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestBackoffBounds(t *testing.T) {
	for attempt := range 10 {
		d := Backoff(attempt)
		base := time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
		if base > 30*time.Second {
			base = 30 * time.Second
		}
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.Less(t, d, base+base/2, "attempt %d", attempt)
	}
}

func TestClassifyError(t *testing.T) {
	limited := classifyError(&openai.APIError{HTTPStatusCode: 429, Message: "slow down"})
	assert.True(t, IsRetryable(limited))

	server := classifyError(fmt.Errorf("wrapped: %w", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}))
	assert.True(t, IsRetryable(server))

	bad := classifyError(&openai.APIError{HTTPStatusCode: 400, Message: "bad input"})
	assert.False(t, IsRetryable(bad))

	plain := errors.New("dial tcp: refused")
	assert.Same(t, plain, classifyError(plain))
	assert.False(t, IsRetryable(plain))
}
