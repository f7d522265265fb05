//go:build !(darwin || linux)

package native

// Library is a loaded device model.
type Library struct {
	Backend
}

func Open(path string, prefix string) (*Library, error) {
	return nil, ErrUnsupported
}

func (l *Library) Path() string { return "" }

func (l *Library) Symbols() Symbols { return Symbols{} }
