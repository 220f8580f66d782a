package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// Reference prefixes.
const (
	EnvPrefix   = "env:"
	AWSSMPrefix = "awssm:"
)

// DefaultCacheTTL is how long Secrets Manager values are reused.
const DefaultCacheTTL = 5 * time.Minute

// Resolver turns token references into token values.
// It is safe for concurrent use.
type Resolver struct {
	lookupEnv  func(string) (string, bool)
	newManager func(ctx context.Context) (ManagerAPI, error)
	cache      Cache
	logger     *slog.Logger

	mu      sync.Mutex
	manager ManagerAPI
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithManager sets the Secrets Manager client. Without it a client is built from the
// default AWS configuration the first time an awssm reference is resolved.
func WithManager(api ManagerAPI) Option {
	return func(r *Resolver) {
		r.manager = api
	}
}

// WithCache sets the cache used for Secrets Manager values.
func WithCache(c Cache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithLookupEnv overrides environment lookup.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.lookupEnv = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		lookupEnv:  os.LookupEnv,
		newManager: defaultManager,
		cache:      NewInMemoryCache(DefaultCacheTTL),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultManager(ctx context.Context) (ManagerAPI, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// Resolve returns the value ref points at. An empty ref resolves to an empty value.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, EnvPrefix):
		return r.resolveEnv(strings.TrimPrefix(ref, EnvPrefix))
	case strings.HasPrefix(ref, AWSSMPrefix):
		return r.resolveAWS(ctx, strings.TrimPrefix(ref, AWSSMPrefix))
	default:
		return ref, nil
	}
}

func (r *Resolver) resolveEnv(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty environment variable name", ErrSecretNotFound)
	}
	value, ok := r.lookupEnv(name)
	if !ok {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrSecretNotFound, name)
	}
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %s", ErrSecretEmpty, name)
	}
	r.logger.Debug("resolved secret reference", "kind", "env", "name", name)
	return value, nil
}

func (r *Resolver) resolveAWS(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty secret id", ErrSecretNotFound)
	}
	if r.cache != nil {
		if value, ok := r.cache.Get(id); ok {
			return value, nil
		}
	}

	api, err := r.client(ctx)
	if err != nil {
		return "", err
	}

	r.logger.Info("retrieving secret", "secret_name", id)
	output, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case ResourceNotFoundException:
				return "", fmt.Errorf("%w: %s", ErrSecretNotFound, id)
			case AccessDeniedException:
				return "", fmt.Errorf("%w: %s", ErrAccessDenied, id)
			}
			return "", fmt.Errorf("GetSecret operation failed: %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		r.logger.Error("failed to retrieve secret", "secret_name", id, "error", err)
		return "", fmt.Errorf("GetSecret operation failed: %w", err)
	}

	var value string
	switch {
	case output.SecretString != nil:
		value = *output.SecretString
	case output.SecretBinary != nil:
		value = string(output.SecretBinary)
	}
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretEmpty, id)
	}

	if r.cache != nil {
		r.cache.Set(id, value)
	}
	return value, nil
}

func (r *Resolver) client(ctx context.Context) (ManagerAPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manager != nil {
		return r.manager, nil
	}
	api, err := r.newManager(ctx)
	if err != nil {
		return nil, err
	}
	r.manager = api
	return api, nil
}
