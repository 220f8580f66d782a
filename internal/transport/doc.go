// Package transport holds the HTTP plumbing shared by the HTTP based destinations and sources.
//
// Every request carries an operation tag assigned by the caller. Failures come back as
// *errors.Error values tagged with that operation and wrapping one of TransportError,
// HTTPStatusError or ProtocolError. Nothing is retried.
package transport
