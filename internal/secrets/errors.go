package secrets

import "errors"

// AWS error codes mapped to package errors.
const (
	ResourceNotFoundException = "ResourceNotFoundException"
	AccessDeniedException     = "AccessDeniedException"
)

var (
	// ErrSecretNotFound is returned when the referenced secret or environment variable does not exist.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrSecretEmpty is returned when the referenced secret exists but has no value.
	ErrSecretEmpty = errors.New("secret value is empty")

	// ErrAccessDenied is returned when the AWS credentials may not read the secret.
	ErrAccessDenied = errors.New("access denied to secret")
)
