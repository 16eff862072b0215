package objstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"throttling", &smithy.GenericAPIError{Code: "SlowDown"}, true},
		{"internal error", &smithy.GenericAPIError{Code: "InternalError"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, false},
		{"network error", errors.New("connection reset by peer"), true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryable(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}

func TestRetryConfigDefaults(t *testing.T) {
	var cfg RetryConfig
	cfg.ApplyDefaults()

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.NotZero(t, cfg.BaseDelay)
	assert.NotZero(t, cfg.MaxDelay)
}
