//go:build integration

package s3

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

func TestIntegration_LocalStack(t *testing.T) {
	ls := testutil.StartLocalStack(t)
	ctx := context.Background()

	client, err := ls.S3Client(ctx)
	require.NoError(t, err)
	require.NoError(t, testutil.CreateBucket(ctx, client, "mirror-it"))

	d, err := NewWithClient(Config{Bucket: "mirror-it", Prefix: "mirror"}, client,
		WithSettings(destination.Settings{FrameSize: 64 * 1024}))
	require.NoError(t, err)

	release := &mirrortypes.Release{TagName: "v0.1.0", Name: "Integration"}
	handle, err := d.CreateRelease(ctx, release)
	require.NoError(t, err)

	data := make([]byte, 150000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	asset := &mirrortypes.Asset{Name: "blob.bin", Data: data}

	target, err := d.ObtainUploadTarget(ctx, handle, asset)
	require.NoError(t, err)
	_, err = d.Upload(ctx, target, asset, nil)
	require.NoError(t, err)
	require.NoError(t, d.Finalize(ctx, target, asset))

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String("mirror-it"),
		Key:    aws.String("mirror/v0.1.0/blob.bin"),
	})
	require.NoError(t, err)
	defer out.Body.Close()
	got, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
