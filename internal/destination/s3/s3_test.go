package s3

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// memoryBucket backs a MockS3Client with a map.
type memoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryBucket() (*memoryBucket, *testutil.MockS3Client) {
	b := &memoryBucket{objects: map[string][]byte{}, types: map[string]string{}}
	mock := &testutil.MockS3Client{
		PutObjectFunc: func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			data, err := io.ReadAll(in.Body)
			if err != nil {
				return nil, err
			}
			if int64(len(data)) != aws.ToInt64(in.ContentLength) {
				return nil, errors.New("content length mismatch")
			}
			b.mu.Lock()
			defer b.mu.Unlock()
			b.objects[aws.ToString(in.Key)] = data
			b.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
			return &s3.PutObjectOutput{}, nil
		},
		HeadObjectFunc: func(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			data, ok := b.objects[aws.ToString(in.Key)]
			if !ok {
				return nil, notFound()
			}
			return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
		},
	}
	return b, mock
}

func notFound() error {
	return &smithy.OperationError{
		ServiceID:     "S3",
		OperationName: "HeadObject",
		Err: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}},
			Err:      &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"},
		},
	}
}

func newTestDestination(t *testing.T, mock API) *Destination {
	t.Helper()
	d, err := NewWithClient(Config{Bucket: "mirror", Prefix: "releases"}, mock,
		WithSettings(destination.Settings{FrameSize: 100}))
	require.NoError(t, err)
	d.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return d
}

func TestNewWithClient_Validation(t *testing.T) {
	_, err := NewWithClient(Config{}, &testutil.MockS3Client{})
	assert.True(t, mirrorerrors.IsInvalidConfig(err))

	d, err := NewWithClient(Config{Bucket: "b"}, &testutil.MockS3Client{})
	require.NoError(t, err)
	assert.Equal(t, "s3", d.ID())
	assert.Equal(t, "S3", d.Tag())
}

func TestDestination_FullFlow(t *testing.T) {
	bucket, mock := newMemoryBucket()
	d := newTestDestination(t, mock)
	ctx := context.Background()

	release := &mirrortypes.Release{TagName: "v1.0.0", Name: "One", Body: "notes"}
	handle, err := d.CreateRelease(ctx, release)
	require.NoError(t, err)
	assert.Equal(t, "releases/v1.0.0", handle.ID)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(bucket.objects["releases/v1.0.0/release.json"], &doc))
	assert.Equal(t, "v1.0.0", doc["tag_name"])
	assert.Equal(t, "One", doc["name"])
	assert.Equal(t, "2025-01-02T03:04:05Z", doc["mirrored_at"])

	asset := &mirrortypes.Asset{Name: "tool.tar.gz", Data: []byte{0x1f, 0x8b, 0x08, 0, 0, 0, 0, 0, 0, 3, 1, 2, 3}}
	target, err := d.ObtainUploadTarget(ctx, handle, asset)
	require.NoError(t, err)
	assert.Equal(t, "releases/v1.0.0/tool.tar.gz", target.UploadURL)

	var last int64
	outcome, err := d.Upload(ctx, target, asset, func(sent, _ int64) { last = sent })
	require.NoError(t, err)
	assert.Equal(t, asset.Size(), outcome.BytesSent)
	assert.Equal(t, asset.Size(), last)
	assert.Equal(t, asset.Data, bucket.objects["releases/v1.0.0/tool.tar.gz"])
	assert.Equal(t, "application/gzip", bucket.types["releases/v1.0.0/tool.tar.gz"])

	require.NoError(t, d.Finalize(ctx, target, asset))
}

func TestDestination_FinalizeSizeMismatch(t *testing.T) {
	mock := &testutil.MockS3Client{
		HeadObjectFunc: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return &s3.HeadObjectOutput{ContentLength: aws.Int64(1)}, nil
		},
	}
	d := newTestDestination(t, mock)

	err := d.Finalize(context.Background(), destination.UploadTarget{UploadURL: "k"}, &mirrortypes.Asset{Name: "a", Data: []byte("abc")})
	var protoErr *mirrorerrors.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "ContentLength", protoErr.Field)
	assert.Contains(t, err.Error(), "is 1, want 3")
}

func TestDestination_FinalizeMissingObject(t *testing.T) {
	_, mock := newMemoryBucket()
	d := newTestDestination(t, mock)

	err := d.Finalize(context.Background(), destination.UploadTarget{UploadURL: "missing"}, &mirrortypes.Asset{Name: "a"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, mirrorerrors.StatusCode(err))
	assert.Equal(t, mirrorerrors.CodeNotFound, mirrorerrors.Code(err))
	assert.Contains(t, err.Error(), "s3.headObject")
}

func TestMapAWSError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code mirrorerrors.ErrorCode
	}{
		{"not found", notFound(), mirrorerrors.CodeNotFound},
		{"canceled", context.Canceled, mirrorerrors.CodeCanceled},
		{"deadline", context.DeadlineExceeded, mirrorerrors.CodeTimeout},
		{"connection", errors.New("dial tcp: connection refused"), mirrorerrors.CodeNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapAWSError("s3.putObject", tt.err)
			assert.Equal(t, tt.code, mirrorerrors.Code(err))
		})
	}
}
