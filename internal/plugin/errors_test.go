package plugin

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAuth, KindOf(AuthError("bad token")))
	assert.Equal(t, KindTimeout, KindOf(TimeoutError("deadline", nil)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("stream 7: %w", RateLimitedError("throttled", 42*time.Second))
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, 42*time.Second, RetryAfterOf(err))
}

func TestRetryAfterOfForeignError(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetryAfterOf(errors.New("plain")))
}

func TestFetchErrorMessage(t *testing.T) {
	err := NetworkError("request failed", errors.New("connection refused"))
	assert.Equal(t, "network: request failed: connection refused", err.Error())
	assert.Equal(t, "auth: no", AuthError("no").Error())
}

func TestFetchErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, ParseError("decode", inner), inner)
}
