// Package guard decides whether a session may see a route and performs
// the resulting redirect.
//
// Decide is a pure function over a Session and Requirements. Guard wraps
// it with the redirect side effect and three brakes against redirect
// loops: a throttle between attempts, suppression when already at the
// target, and at most one redirect per pathname until the pathname
// changes.
package guard
