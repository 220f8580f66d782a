// Package s3 implements an object-store destination. A release becomes a key prefix
// holding release.json and one object per asset, and every upload is confirmed with a
// HEAD request comparing the stored length to the asset size.
package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/chunk"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/progress"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

const (
	// Tag labels S3 uploads in progress output.
	Tag = "S3"

	releaseObject = "release.json"
	defaultRegion = "us-east-1"
)

// Config identifies the bucket and prefix releases are mirrored into.
type Config struct {
	ID        string
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// Destination uploads releases to an S3 bucket.
type Destination struct {
	cfg      Config
	client   API
	settings destination.Settings
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Destination.
type Option func(*Destination)

// WithSettings sets frame size and content type handling.
func WithSettings(s destination.Settings) Option {
	return func(d *Destination) {
		d.settings = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Destination) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates an S3 destination using the default AWS credential chain.
func New(ctx context.Context, cfg Config, opts ...Option) (*Destination, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, mirrorerrors.NewError("s3.loadConfig", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithClient(cfg, client, opts...)
}

// NewWithClient creates an S3 destination around an existing client.
// This is primarily used for testing with mocked clients.
func NewWithClient(cfg Config, client API, opts ...Option) (*Destination, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = "s3"
	}

	d := &Destination{
		cfg:    cfg,
		client: client,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func validate(cfg Config) error {
	if cfg.Bucket == "" {
		return fmt.Errorf("%w: s3 bucket is required", mirrorerrors.ErrInvalidConfig)
	}
	return nil
}

// ID returns the destination id.
func (d *Destination) ID() string { return d.cfg.ID }

// Tag returns the progress label tag.
func (d *Destination) Tag() string { return Tag }

type releaseDocument struct {
	mirrortypes.Release
	MirroredAt time.Time `json:"mirrored_at"`
}

// CreateRelease writes release.json under {prefix}/{tag}/.
func (d *Destination) CreateRelease(ctx context.Context, release *mirrortypes.Release) (destination.ReleaseHandle, error) {
	const op = "s3.createRelease"

	prefix := path.Join(d.cfg.Prefix, release.TagName)
	key := path.Join(prefix, releaseObject)

	doc, err := json.MarshalIndent(releaseDocument{Release: *release, MirroredAt: d.now().UTC()}, "", "  ")
	if err != nil {
		return destination.ReleaseHandle{}, mirrorerrors.NewError(op, err)
	}

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.cfg.Bucket),
		Key:           aws.String(key),
		Body:          chunk.NewReader(doc, d.settings.FrameSize),
		ContentLength: aws.Int64(int64(len(doc))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return destination.ReleaseHandle{}, mapAWSError(op, err)
	}

	d.logger.Info("release created", "destination", d.cfg.ID, "tag", release.TagName, "bucket", d.cfg.Bucket, "key", key)
	return destination.ReleaseHandle{ID: prefix, Release: *release}, nil
}

// ObtainUploadTarget derives the object key; no request is made.
func (d *Destination) ObtainUploadTarget(
	_ context.Context,
	handle destination.ReleaseHandle,
	asset *mirrortypes.Asset,
) (destination.UploadTarget, error) {
	return destination.UploadTarget{
		Handle:    handle,
		Asset:     asset.Name,
		UploadURL: path.Join(handle.ID, asset.Name),
	}, nil
}

// Upload puts the asset object, streaming the body frame by frame with an explicit length.
func (d *Destination) Upload(
	ctx context.Context,
	target destination.UploadTarget,
	asset *mirrortypes.Asset,
	onProgress destination.ProgressFunc,
) (destination.UploadOutcome, error) {
	const op = "s3.putObject"

	body := progress.NewReader(chunk.NewReader(asset.Data, d.settings.FrameSize), asset.Size(), onProgress)
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.cfg.Bucket),
		Key:           aws.String(target.UploadURL),
		Body:          body,
		ContentLength: aws.Int64(asset.Size()),
		ContentType:   aws.String(transport.DetectContentType(asset.Data, d.settings.ContentType)),
	})
	if err != nil {
		return destination.UploadOutcome{}, mapAWSError(op, err)
	}

	d.logger.Info("asset uploaded", "destination", d.cfg.ID, "asset", asset.Name, "key", target.UploadURL, "bytes", asset.Size())
	return destination.UploadOutcome{BytesSent: asset.Size()}, nil
}

// Finalize checks that the stored object has the asset's length.
func (d *Destination) Finalize(ctx context.Context, target destination.UploadTarget, asset *mirrortypes.Asset) error {
	const op = "s3.headObject"

	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(target.UploadURL),
	})
	if err != nil {
		return mapAWSError(op, err)
	}

	got := aws.ToInt64(out.ContentLength)
	if got != asset.Size() {
		reason := fmt.Sprintf("is %d, want %d", got, asset.Size())
		return mirrorerrors.NewError(op, mirrorerrors.NewProtocolError("ContentLength", reason, nil))
	}

	d.logger.Info("asset verified", "destination", d.cfg.ID, "asset", asset.Name, "key", target.UploadURL)
	return nil
}

// mapAWSError converts SDK failures into the mirror error taxonomy.
func mapAWSError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return mirrorerrors.NewError(op, err)
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		body := err.Error()
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			body = fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return mirrorerrors.NewError(op, mirrorerrors.NewHTTPStatusError(respErr.HTTPStatusCode(), []byte(body)))
	}

	return mirrorerrors.NewError(op, &mirrorerrors.TransportError{Err: err})
}

var _ destination.Destination = (*Destination)(nil)
