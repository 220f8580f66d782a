// Package pool bounds how many uploads and fetches run at once.
//
// A Limiter with size 0 is unbounded: every task starts immediately. A nil
// *Limiter behaves the same way so callers never need to special-case it.
package pool
