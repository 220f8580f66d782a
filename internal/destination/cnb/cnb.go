// Package cnb implements the presigned-URL destination. The release is created first,
// then every asset asks for an upload URL, streams its body there and confirms the
// upload through a separate verify URL.
package cnb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

const (
	// DefaultBaseURL is the public CNB API root.
	DefaultBaseURL = "https://api.cnb.cool"

	// Tag labels CNB uploads in progress output.
	Tag = "CNB"

	jsonContentType = "application/json;charset=UTF-8"
	acceptJSON      = "application/json"
)

// Config identifies the CNB repository to mirror into.
type Config struct {
	ID              string
	Owner           string
	Repo            string
	Token           string
	TargetCommitish string
	BaseURL         string
}

// Destination uploads releases to CNB.
type Destination struct {
	cfg      Config
	base     *url.URL
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

// New creates a CNB destination.
func New(cfg Config, opts ...Option) (*Destination, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("%w: cnb owner and repo are required", mirrorerrors.ErrInvalidConfig)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: cnb token is required", mirrorerrors.ErrInvalidConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.ID == "" {
		cfg.ID = "cnb"
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: cnb base url: %v", mirrorerrors.ErrInvalidConfig, err)
	}

	d := &Destination{
		cfg:    cfg,
		base:   base,
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

// verifyHeaders carries auth and the exact Accept value CNB requires; verify has no body.
func (d *Destination) verifyHeaders() http.Header {
	h := transport.BearerHeader(d.cfg.Token)
	h.Set("Accept", acceptJSON)
	return h
}

func (d *Destination) headers() http.Header {
	h := d.verifyHeaders()
	h.Set("Content-Type", jsonContentType)
	return h
}

func (d *Destination) releasesURL() string {
	return fmt.Sprintf("%s/%s/%s/-/releases", d.cfg.BaseURL, escapeSegments(d.cfg.Owner), escapeSegments(d.cfg.Repo))
}

// resolve makes host supplied URLs absolute against the API root.
func (d *Destination) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return d.base.ResolveReference(u).String(), nil
}

type createReleaseRequest struct {
	Body            string `json:"body"`
	Draft           bool   `json:"draft"`
	MakeLatest      string `json:"make_latest"`
	Name            string `json:"name"`
	Prerelease      bool   `json:"prerelease"`
	TagName         string `json:"tag_name"`
	TargetCommitish string `json:"target_commitish"`
}

type createReleaseResponse struct {
	ID transport.ID `json:"id"`
}

// MakeLatest reports whether release should become the repository's latest release.
// Prereleases, flagged or carrying a semver pre-release tag, never do.
func MakeLatest(release *mirrortypes.Release) bool {
	if release.Prerelease {
		return false
	}
	if v, err := semver.NewVersion(release.TagName); err == nil && v.Prerelease() != "" {
		return false
	}
	return true
}

// CreateRelease creates the release and returns its CNB id.
func (d *Destination) CreateRelease(ctx context.Context, release *mirrortypes.Release) (destination.ReleaseHandle, error) {
	const op = "cnb.createRelease"

	req := createReleaseRequest{
		Body:            release.Body,
		Draft:           false,
		MakeLatest:      strconv.FormatBool(MakeLatest(release)),
		Name:            release.Name,
		Prerelease:      release.Prerelease,
		TagName:         release.TagName,
		TargetCommitish: d.cfg.TargetCommitish,
	}

	var resp createReleaseResponse
	raw, err := d.client.JSON(ctx, op, http.MethodPost, d.releasesURL(), d.headers(), req, &resp)
	if err != nil {
		return destination.ReleaseHandle{}, err
	}
	if err := transport.Require(op, "id", resp.ID.String(), raw); err != nil {
		return destination.ReleaseHandle{}, err
	}

	d.logger.Info("release created", "destination", d.cfg.ID, "tag", release.TagName, "release_id", resp.ID.String())
	return destination.ReleaseHandle{ID: resp.ID.String(), Release: *release}, nil
}

type uploadURLRequest struct {
	AssetName string `json:"asset_name"`
	Overwrite bool   `json:"overwrite"`
	Size      int64  `json:"size"`
}

type uploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	VerifyURL string `json:"verify_url"`
}

// ObtainUploadTarget asks CNB for a presigned upload URL and the matching verify URL.
func (d *Destination) ObtainUploadTarget(
	ctx context.Context,
	handle destination.ReleaseHandle,
	asset *mirrortypes.Asset,
) (destination.UploadTarget, error) {
	const op = "cnb.assetUploadURL"

	endpoint := fmt.Sprintf("%s/%s/asset-upload-url", d.releasesURL(), url.PathEscape(handle.ID))
	req := uploadURLRequest{AssetName: asset.Name, Overwrite: true, Size: asset.Size()}

	var resp uploadURLResponse
	raw, err := d.client.JSON(ctx, op, http.MethodPost, endpoint, d.headers(), req, &resp)
	if err != nil {
		return destination.UploadTarget{}, err
	}
	if err := transport.Require(op, "upload_url", resp.UploadURL, raw); err != nil {
		return destination.UploadTarget{}, err
	}
	if err := transport.Require(op, "verify_url", resp.VerifyURL, raw); err != nil {
		return destination.UploadTarget{}, err
	}

	uploadURL, err := d.resolve(resp.UploadURL)
	if err != nil {
		return destination.UploadTarget{}, mirrorerrors.NewError(op, mirrorerrors.NewProtocolError("upload_url", "is not a valid URL", raw))
	}
	verifyURL, err := d.resolve(resp.VerifyURL)
	if err != nil {
		return destination.UploadTarget{}, mirrorerrors.NewError(op, mirrorerrors.NewProtocolError("verify_url", "is not a valid URL", raw))
	}

	return destination.UploadTarget{
		Handle:    handle,
		Asset:     asset.Name,
		UploadURL: uploadURL,
		VerifyURL: verifyURL,
	}, nil
}

// Upload streams the asset as a multipart form to the presigned URL.
// The response must be JSON; its content is not inspected further.
func (d *Destination) Upload(
	ctx context.Context,
	target destination.UploadTarget,
	asset *mirrortypes.Asset,
	onProgress destination.ProgressFunc,
) (destination.UploadOutcome, error) {
	const op = "cnb.upload"

	form, err := transport.BuildForm(nil, transport.File{
		Name:        asset.Name,
		ContentType: d.settings.ContentType,
		Data:        asset.Data,
	})
	if err != nil {
		return destination.UploadOutcome{}, mirrorerrors.NewError(op, err)
	}

	resp, err := d.client.PostForm(ctx, op, target.UploadURL, nil, form, d.settings.FrameSize, onProgress)
	if err != nil {
		return destination.UploadOutcome{}, err
	}
	if len(resp.Body) > 0 && !json.Valid(resp.Body) {
		return destination.UploadOutcome{}, mirrorerrors.NewError(op, mirrorerrors.NewProtocolError("", "is not valid JSON", resp.Body))
	}

	d.logger.Info("asset uploaded", "destination", d.cfg.ID, "asset", asset.Name, "bytes", asset.Size())
	return destination.UploadOutcome{BytesSent: form.Len(), Response: resp.Body}, nil
}

// Finalize confirms the upload through the verify URL and logs the response text.
func (d *Destination) Finalize(ctx context.Context, target destination.UploadTarget, asset *mirrortypes.Asset) error {
	const op = "cnb.verify"

	if target.VerifyURL == "" {
		return mirrorerrors.NewError(op, mirrorerrors.NewProtocolError("verify_url", "", nil))
	}

	resp, err := d.client.Do(ctx, transport.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    target.VerifyURL,
		Header: d.verifyHeaders(),
	})
	if err != nil {
		return err
	}

	d.logger.Info("asset verified", "destination", d.cfg.ID, "asset", asset.Name, "response", string(resp.Body))
	return nil
}

func escapeSegments(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

var _ destination.Destination = (*Destination)(nil)
