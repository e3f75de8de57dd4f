// Package monitor keeps a live snapshot of session freshness.
//
// A Monitor polls the token store on a fixed interval and whenever it is
// asked to, publishing a new Status only when something observable has
// changed. When the token enters its freshness window and auto refresh is
// on, a refresh is scheduled after a short delay. A failed refresh ends the
// session: the token and profile are cleared and the next published Status
// reports no token.
//
// Checks are serialized. A Check that arrives while another is running
// returns the last published Status instead of starting a second one.
package monitor
