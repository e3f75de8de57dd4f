// Package tokenstore is the single owner of the client's locally held
// credential and the small user profile shown alongside it.
//
// Reads go through two tiers: an in-process cache that is trusted for
// Config.CacheTTL, then the durable Backend. Once the TTL lapses the
// durable copy is read again and replaces the cache, so a login or logout
// performed by another process sharing the same backend is noticed within
// one TTL. Every write stamps the record with a fresh ULID, which is what
// the cache compares against.
//
// Storage failures never escape: they are logged, counted, and turned into
// the ordinary "no token" state.
package tokenstore
