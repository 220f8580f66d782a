// Package gitee implements the single-call destination: the release is created with one
// request and each asset is attached with one streamed multipart request.
package gitee

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

const (
	// DefaultBaseURL is the public Gitee API root.
	DefaultBaseURL = "https://gitee.com/api/v5"

	// Tag labels Gitee uploads in progress output.
	Tag = "GTE"
)

// Config identifies the Gitee repository to mirror into.
type Config struct {
	ID              string
	Owner           string
	Repo            string
	Token           string
	TargetCommitish string
	BaseURL         string
}

// Destination uploads releases to Gitee.
type Destination struct {
	cfg      Config
	client   *transport.Client
	settings destination.Settings
	logger   *slog.Logger
}

// Option configures a Destination.
type Option func(*Destination)

// WithClient sets the transport client.
func WithClient(c *transport.Client) Option {
	return func(d *Destination) {
		if c != nil {
			d.client = c
		}
	}
}

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

// New creates a Gitee destination.
func New(cfg Config, opts ...Option) (*Destination, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("%w: gitee owner and repo are required", mirrorerrors.ErrInvalidConfig)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: gitee token is required", mirrorerrors.ErrInvalidConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.ID == "" {
		cfg.ID = "gitee"
	}

	d := &Destination{
		cfg:    cfg,
		client: transport.New(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
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

func (d *Destination) releasesURL() string {
	return fmt.Sprintf("%s/repos/%s/%s/releases", d.cfg.BaseURL, url.PathEscape(d.cfg.Owner), url.PathEscape(d.cfg.Repo))
}

type createReleaseRequest struct {
	AccessToken     string `json:"access_token"`
	TagName         string `json:"tag_name"`
	Name            string `json:"name"`
	Body            string `json:"body"`
	Prerelease      string `json:"prerelease"`
	TargetCommitish string `json:"target_commitish"`
}

type createReleaseResponse struct {
	ID transport.ID `json:"id"`
}

// CreateRelease creates the release and returns its Gitee id.
func (d *Destination) CreateRelease(ctx context.Context, release *mirrortypes.Release) (destination.ReleaseHandle, error) {
	const op = "gitee.createRelease"

	req := createReleaseRequest{
		AccessToken:     d.cfg.Token,
		TagName:         release.TagName,
		Name:            release.Name,
		Body:            release.Body,
		Prerelease:      strconv.FormatBool(release.Prerelease),
		TargetCommitish: d.cfg.TargetCommitish,
	}

	var resp createReleaseResponse
	raw, err := d.client.JSON(ctx, op, http.MethodPost, d.releasesURL(), nil, req, &resp)
	if err != nil {
		return destination.ReleaseHandle{}, err
	}
	if err := transport.Require(op, "id", resp.ID.String(), raw); err != nil {
		return destination.ReleaseHandle{}, err
	}

	d.logger.Info("release created", "destination", d.cfg.ID, "tag", release.TagName, "release_id", resp.ID.String())
	return destination.ReleaseHandle{ID: resp.ID.String(), Release: *release}, nil
}

// ObtainUploadTarget returns the release attachment endpoint; no request is made.
func (d *Destination) ObtainUploadTarget(
	_ context.Context,
	handle destination.ReleaseHandle,
	asset *mirrortypes.Asset,
) (destination.UploadTarget, error) {
	return destination.UploadTarget{
		Handle:    handle,
		Asset:     asset.Name,
		UploadURL: fmt.Sprintf("%s/%s/attach_files", d.releasesURL(), url.PathEscape(handle.ID)),
	}, nil
}

// Upload attaches the asset to the release in a single multipart request.
func (d *Destination) Upload(
	ctx context.Context,
	target destination.UploadTarget,
	asset *mirrortypes.Asset,
	onProgress destination.ProgressFunc,
) (destination.UploadOutcome, error) {
	const op = "gitee.attachFile"

	form, err := transport.BuildForm(
		[]transport.Field{{Name: "access_token", Value: d.cfg.Token}},
		transport.File{Name: asset.Name, ContentType: d.settings.ContentType, Data: asset.Data},
	)
	if err != nil {
		return destination.UploadOutcome{}, mirrorerrors.NewError(op, err)
	}

	resp, err := d.client.PostForm(ctx, op, target.UploadURL, nil, form, d.settings.FrameSize, onProgress)
	if err != nil {
		return destination.UploadOutcome{}, err
	}

	d.logger.Info("asset uploaded", "destination", d.cfg.ID, "asset", asset.Name, "bytes", asset.Size())
	return destination.UploadOutcome{BytesSent: form.Len(), Response: resp.Body}, nil
}

// Finalize is a no-op: the attach request is the terminal step.
func (d *Destination) Finalize(context.Context, destination.UploadTarget, *mirrortypes.Asset) error {
	return nil
}

var _ destination.Destination = (*Destination)(nil)
