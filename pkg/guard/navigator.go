package guard

//go:generate mockgen -source=navigator.go -destination=mocks/navigator.go -package=mocks

// Navigator performs client-side navigation. Push may fail, for example
// when a response has already been committed.
type Navigator interface {
	Push(path string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string) error

func (f NavigatorFunc) Push(path string) error { return f(path) }
