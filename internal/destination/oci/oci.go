// Package oci implements an OCI registry destination. Every asset is pushed as the single
// layer of an OCI 1.1 artifact manifest tagged after the release tag and asset name.
package oci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/chunk"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/progress"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

const (
	// Tag labels OCI uploads in progress output.
	Tag = "OCI"

	// ArtifactType is the artifact type of every pushed manifest.
	ArtifactType = "application/vnd.catalyst.release.asset.v1"

	annotationPrerelease = "io.catalyst.release.prerelease"

	metaDigest    = "digest"
	metaMediaType = "mediaType"
	metaTag       = "tag"

	maxTagLength = 128
)

var invalidTagChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Config identifies the registry repository releases are pushed to.
type Config struct {
	ID string

	// Repository is the repository reference without tag, e.g. "ghcr.io/org/tool"
	Repository string

	Username string
	Password string

	// PlainHTTP talks to the registry over HTTP instead of HTTPS
	PlainHTTP bool
}

// Destination pushes release assets to an OCI registry.
type Destination struct {
	cfg      Config
	target   oras.Target
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

// New creates a destination for a remote registry repository.
// Credentials, when set, are sent only to the repository's registry.
func New(cfg Config, opts ...Option) (*Destination, error) {
	if cfg.Repository == "" {
		return nil, fmt.Errorf("%w: oci repository is required", mirrorerrors.ErrInvalidConfig)
	}

	repo, err := remote.NewRepository(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("%w: oci repository: %v", mirrorerrors.ErrInvalidConfig, err)
	}
	repo.PlainHTTP = cfg.PlainHTTP

	client := &auth.Client{
		Client: &http.Client{},
		Cache:  auth.NewCache(),
	}
	if cfg.Username != "" || cfg.Password != "" {
		client.Credential = auth.StaticCredential(repo.Reference.Registry, auth.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}
	repo.Client = client

	return NewWithTarget(cfg, repo, opts...)
}

// NewWithTarget creates a destination pushing into an arbitrary ORAS target.
// This is primarily used for testing with an in-memory store.
func NewWithTarget(cfg Config, target oras.Target, opts ...Option) (*Destination, error) {
	if target == nil {
		return nil, fmt.Errorf("%w: oci target is required", mirrorerrors.ErrInvalidConfig)
	}
	if cfg.ID == "" {
		cfg.ID = "oci"
	}

	d := &Destination{
		cfg:    cfg,
		target: target,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ID returns the destination id.
func (d *Destination) ID() string { return d.cfg.ID }

// Tag returns the progress label tag.
func (d *Destination) Tag() string { return Tag }

// SanitizeTag turns s into a valid OCI tag: [A-Za-z0-9_][A-Za-z0-9._-]{0,127}.
func SanitizeTag(s string) string {
	t := invalidTagChars.ReplaceAllString(s, "-")
	if t == "" || t[0] == '.' || t[0] == '-' {
		t = "_" + t
	}
	if len(t) > maxTagLength {
		t = t[:maxTagLength]
	}
	return t
}

// CreateRelease makes no request; the release exists once its first manifest is tagged.
func (d *Destination) CreateRelease(_ context.Context, release *mirrortypes.Release) (destination.ReleaseHandle, error) {
	return destination.ReleaseHandle{ID: d.cfg.Repository, Release: *release}, nil
}

// ObtainUploadTarget computes the layer descriptor and manifest tag of the asset.
func (d *Destination) ObtainUploadTarget(
	_ context.Context,
	handle destination.ReleaseHandle,
	asset *mirrortypes.Asset,
) (destination.UploadTarget, error) {
	tag := SanitizeTag(handle.Release.TagName + "-" + asset.Name)
	return destination.UploadTarget{
		Handle:    handle,
		Asset:     asset.Name,
		UploadURL: handle.ID + ":" + tag,
		Meta: map[string]string{
			metaDigest:    digest.FromBytes(asset.Data).String(),
			metaMediaType: transport.DetectContentType(asset.Data, d.settings.ContentType),
			metaTag:       tag,
		},
	}, nil
}

func layerDescriptor(target destination.UploadTarget, asset *mirrortypes.Asset) (ocispec.Descriptor, error) {
	dgst, err := digest.Parse(target.Meta[metaDigest])
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: layer digest: %v", mirrorerrors.ErrInvalidInput, err)
	}
	return ocispec.Descriptor{
		MediaType: target.Meta[metaMediaType],
		Digest:    dgst,
		Size:      asset.Size(),
		Annotations: map[string]string{
			ocispec.AnnotationTitle: asset.Name,
		},
	}, nil
}

// Upload pushes the asset blob, streaming it frame by frame. A blob the registry
// already holds is not sent again.
func (d *Destination) Upload(
	ctx context.Context,
	target destination.UploadTarget,
	asset *mirrortypes.Asset,
	onProgress destination.ProgressFunc,
) (destination.UploadOutcome, error) {
	const op = "oci.pushBlob"

	desc, err := layerDescriptor(target, asset)
	if err != nil {
		return destination.UploadOutcome{}, mirrorerrors.NewError(op, err)
	}

	exists, err := d.target.Exists(ctx, desc)
	if err != nil {
		return destination.UploadOutcome{}, mapORASError(op, err)
	}
	if exists {
		if onProgress != nil {
			onProgress(asset.Size(), asset.Size())
		}
		d.logger.Info("asset already present", "destination", d.cfg.ID, "asset", asset.Name, "digest", desc.Digest.String())
		return destination.UploadOutcome{}, nil
	}

	body := progress.NewReader(chunk.NewReader(asset.Data, d.settings.FrameSize), asset.Size(), onProgress)
	if err := d.target.Push(ctx, desc, body); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
		return destination.UploadOutcome{}, mapORASError(op, err)
	}

	d.logger.Info("asset uploaded", "destination", d.cfg.ID, "asset", asset.Name, "digest", desc.Digest.String(), "bytes", asset.Size())
	return destination.UploadOutcome{BytesSent: asset.Size()}, nil
}

// Finalize packs the artifact manifest around the pushed layer and tags it.
func (d *Destination) Finalize(ctx context.Context, target destination.UploadTarget, asset *mirrortypes.Asset) error {
	const op = "oci.tagManifest"

	desc, err := layerDescriptor(target, asset)
	if err != nil {
		return mirrorerrors.NewError(op, err)
	}

	release := target.Handle.Release
	packOpts := oras.PackManifestOptions{
		Layers: []ocispec.Descriptor{desc},
		ManifestAnnotations: map[string]string{
			ocispec.AnnotationCreated:     d.now().UTC().Format(time.RFC3339),
			ocispec.AnnotationVersion:     release.TagName,
			ocispec.AnnotationTitle:       release.Name,
			ocispec.AnnotationDescription: release.Body,
		},
	}
	packOpts.ManifestAnnotations[annotationPrerelease] = strconv.FormatBool(release.Prerelease)

	manDesc, err := oras.PackManifest(ctx, d.target, oras.PackManifestVersion1_1, ArtifactType, packOpts)
	if err != nil {
		return mapORASError(op, err)
	}

	tag := target.Meta[metaTag]
	if err := d.target.Tag(ctx, manDesc, tag); err != nil {
		return mapORASError(op, err)
	}

	d.logger.Info("asset verified", "destination", d.cfg.ID, "asset", asset.Name, "tag", tag, "manifest", manDesc.Digest.String())
	return nil
}

// mapORASError converts registry failures into the mirror error taxonomy.
func mapORASError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return mirrorerrors.NewError(op, err)
	}

	var respErr *errcode.ErrorResponse
	if errors.As(err, &respErr) {
		return mirrorerrors.NewError(op, mirrorerrors.NewHTTPStatusError(respErr.StatusCode, []byte(respErr.Errors.Error())))
	}

	if errors.Is(err, auth.ErrBasicCredentialNotFound) {
		return mirrorerrors.NewError(op, mirrorerrors.NewHTTPStatusError(http.StatusUnauthorized, []byte(err.Error())))
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return mirrorerrors.NewError(op, &mirrorerrors.TransportError{Err: err})
	}

	return mirrorerrors.NewError(op, err)
}

var _ destination.Destination = (*Destination)(nil)
