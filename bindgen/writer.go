package bindgen

import (
	"fmt"
	"strings"
)

// writer accumulates generated C. Definitions shared between classes, such
// as trampolines inherited by several subclasses, are written once.
type writer struct {
	sb      strings.Builder
	module  *Module
	written map[string]bool
}

func newWriter(m *Module) *writer {
	return &writer{module: m, written: make(map[string]bool)}
}

func (w *writer) write(s string) {
	w.sb.WriteString(s)
}

func (w *writer) printf(format string, args ...any) {
	w.sb.WriteString(fmt.Sprintf(format, args...))
}

// once reports whether key is seen for the first time.
func (w *writer) once(key string) bool {
	if w.written[key] {
		return false
	}
	w.written[key] = true
	return true
}

func (w *writer) String() string { return w.sb.String() }
