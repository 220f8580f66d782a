package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	base := fmt.Errorf("boom")

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"op only", NewError("gitee.createRelease", base), "gitee.createRelease: boom"},
		{"destination", NewError("cnb.createRelease", base).WithDestination("cnb"), "cnb.createRelease [cnb]: boom"},
		{"asset only", NewError("github.fetchAsset", base).WithAsset("app.zip"), "github.fetchAsset app.zip: boom"},
		{"destination and asset", NewAssetError("cnb.upload", "cnb", "app.zip", base), "cnb.upload [cnb] app.zip: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_UnwrapChain(t *testing.T) {
	statusErr := NewHTTPStatusError(502, []byte("bad gateway"))
	err := NewAssetError("gitee.attachFile", "gitee", "app.zip", statusErr).WithMessage("upload")

	var target *HTTPStatusError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, 502, target.StatusCode)
	assert.Equal(t, 502, StatusCode(err))
	assert.Contains(t, err.Error(), "upload: http status 502: bad gateway")
}

func TestNewHTTPStatusError_TruncatesBody(t *testing.T) {
	body := strings.Repeat("x", maxBodySnippet+100)
	err := NewHTTPStatusError(500, []byte(body))
	assert.Len(t, err.Body, maxBodySnippet+3)
	assert.True(t, strings.HasSuffix(err.Body, "..."))
}

func TestProtocolError_Error(t *testing.T) {
	err := NewProtocolError("upload_url", "", []byte(`{"verify_url":"x"}`))
	assert.Equal(t, `protocol: field "upload_url" missing in response {"verify_url":"x"}`, err.Error())

	err = NewProtocolError("id", "not a string or number", nil)
	assert.Equal(t, `protocol: field "id" not a string or number`, err.Error())
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"unauthorized", NewHTTPStatusError(401, nil), CodeUnauthorized},
		{"forbidden", NewHTTPStatusError(403, nil), CodeForbidden},
		{"not found", NewHTTPStatusError(404, nil), CodeNotFound},
		{"conflict", NewHTTPStatusError(422, nil), CodeConflict},
		{"rate limit", NewHTTPStatusError(429, nil), CodeRateLimit},
		{"server", NewHTTPStatusError(503, nil), CodeUnavailable},
		{"bad request", NewHTTPStatusError(400, nil), CodePublishFailed},
		{"protocol", NewProtocolError("id", "", nil), CodePublishFailed},
		{"transport", &TransportError{Err: errors.New("dial tcp: refused")}, CodeNetwork},
		{"deadline", &TransportError{Err: context.DeadlineExceeded}, CodeTimeout},
		{"canceled", NewError("run", ErrCanceled), CodeCanceled},
		{"config", fmt.Errorf("load: %w", ErrInvalidConfig), CodeInvalidConfig},
		{"input", ErrInvalidInput, CodeInvalidInput},
		{"other", errors.New("other"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestSentinelHelpers(t *testing.T) {
	assert.True(t, IsAssetFetch(fmt.Errorf("fetch: %w", ErrAssetFetch)))
	assert.True(t, IsInvalidConfig(NewError("config.validate", ErrInvalidConfig)))
	assert.True(t, IsCanceled(NewError("run", ErrCanceled)))
	assert.False(t, IsAssetFetch(ErrCanceled))
}
