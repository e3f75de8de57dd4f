// Package session composes the token store, the session monitor and route
// guards into one explicitly constructed Manager.
//
// There is no package-level instance. Construct a Manager with NewManager
// for each session context (a CLI profile, a desktop window, a test) and
// pass it to whatever needs the current token or a route decision.
package session
