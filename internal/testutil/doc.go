// Package testutil provides test utilities and mocks for the mirror packages.
// This package is internal and should only be used for testing within this module.
package testutil
