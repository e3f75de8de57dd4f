/*
Package httpx holds the net/http plumbing for serving pages behind the
session subsystem.

RequireRoute runs a guard.Guard per request. The session is read from a
tokenstore.Store built over the request's cookies (CookieBackend) or over a
server-side store keyed by a session ID cookie (ServerSideBackend). Denied
requests are redirected once through RedirectNavigator; when the guard
holds the redirect back the request fails with a JSON error instead.

	deps := httpx.RouteDeps{Store: tokenstore.DefaultConfig(), Guard: guard.DefaultConfig()}
	r.Handle("/admin", httpx.Chain(adminPage,
		httpx.RequireRoute(deps, guard.AdminOnly()),
		httpx.RateLimitByIP(httpx.SessionLimit),
	))

Middleware passed to Chain runs in the order listed.
*/
package httpx
