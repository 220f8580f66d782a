// Package chunk splits an in-memory buffer into bounded frames for streaming.
//
// Frames yields a lazy, restartable sequence of sub-slices whose in-order
// concatenation is the original buffer. Reader turns that sequence into an
// io.Reader whose total length is known up front, so HTTP requests carry an
// explicit Content-Length instead of chunked transfer encoding.
package chunk
