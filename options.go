package mirror

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// WithLogger sets the logger used by the client and every component it builds.
func WithLogger(logger *slog.Logger) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		c.Logger = logger
	}
}

// WithConcurrency bounds concurrent asset fetches and uploads across all destinations.
// Zero means unbounded.
func WithConcurrency(n int) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		if n >= 0 {
			c.Concurrency = n
		}
	}
}

// WithAssetFailurePolicy sets what an asset failure does to the rest of its destination.
// Default is AbortDestination.
func WithAssetFailurePolicy(p mirrortypes.AssetFailurePolicy) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		c.AssetFailurePolicy = p
	}
}

// WithExcludeSuffixes sets the asset name suffixes that are never replicated.
func WithExcludeSuffixes(suffixes ...string) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		c.ExcludeSuffixes = suffixes
	}
}

// WithFrameSize sets the upload streaming frame size in bytes. Default is 64 KiB.
func WithFrameSize(size int) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		if size > 0 {
			c.FrameSize = size
		}
	}
}

// WithProgressInterval sets how often the progress snapshot is printed. Default is 15s.
func WithProgressInterval(d time.Duration) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		if d > 0 {
			c.ProgressInterval = d
		}
	}
}

// WithProgressWriter sets where progress snapshots are printed. Default is stdout.
func WithProgressWriter(w io.Writer) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		c.ProgressWriter = w
	}
}

// WithTimeout bounds a whole run. Default is no timeout.
func WithTimeout(d time.Duration) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		c.Timeout = d
	}
}

// WithContentType overrides content type detection for uploaded assets.
func WithContentType(ct string) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		c.ContentType = ct
	}
}

// WithHTTPClient sets the HTTP client used by the web hosts.
func WithHTTPClient(hc *http.Client) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		c.HTTPClient = hc
	}
}

// WithUserAgent sets the User-Agent header sent to web hosts.
func WithUserAgent(ua string) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		c.UserAgent = ua
	}
}

// WithSecrets sets how token references are resolved.
// Default resolves env: and awssm: references and passes anything else through.
func WithSecrets(r mirrortypes.SecretResolver) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		c.Secrets = r
	}
}

// WithWorkDir sets the checkout whose current branch fills empty target commitishes.
// Default is the process working directory.
func WithWorkDir(dir string) mirrortypes.Option {
	return func(c *mirrortypes.ClientConfig) {
		c.WorkDir = dir
	}
}
