package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

var (
	ErrAlreadyRedirected = errors.New("httpx: response already redirected")
	ErrUnsafeRedirect    = errors.New("httpx: redirect target is not a local path")
)

// RedirectNavigator answers one guarded request with a 302. Only the
// first successful Push reaches the client.
type RedirectNavigator struct {
	w http.ResponseWriter
	r *http.Request

	mu     sync.Mutex
	target string
}

func NewRedirectNavigator(w http.ResponseWriter, r *http.Request) *RedirectNavigator {
	return &RedirectNavigator{w: w, r: r}
}

func (n *RedirectNavigator) Push(path string) error {
	if !LocalPath(path) {
		return fmt.Errorf("%w: %q", ErrUnsafeRedirect, path)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.target != "" {
		return ErrAlreadyRedirected
	}
	n.target = path

	NoCache(n.w)
	http.Redirect(n.w, n.r, path, http.StatusFound)
	return nil
}

// Target returns where the response was redirected, if anywhere.
func (n *RedirectNavigator) Target() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target, n.target != ""
}

// LocalPath reports whether p stays on this origin.
func LocalPath(p string) bool {
	return strings.HasPrefix(p, "/") &&
		!strings.HasPrefix(p, "//") &&
		!strings.HasPrefix(p, `/\`)
}
