// Package tokenx holds the pure expiry math for client-held access tokens.
//
// Nothing here does I/O or keeps state, so every function is safe to call
// from any goroutine. The same buffers are applied by the token store when
// it serves a token and by the session monitor when it publishes status;
// keeping the arithmetic in one place is what stops the two from drifting.
//
// Two buffers matter:
//
//   - Leeway: a token is unusable once now >= exp-Leeway.
//   - FreshnessBuffer: a token is expiring soon once exp-now <= FreshnessBuffer.
//
// Undecodable tokens are treated as expired.
package tokenx
