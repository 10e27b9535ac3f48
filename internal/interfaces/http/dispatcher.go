package http

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
)

type module struct {
	prefix   string
	register func(g *echo.Group)
}

// Dispatcher mounts route modules under disjoint path prefixes.
type Dispatcher struct {
	e       *echo.Echo
	mounted []string
}

func NewDispatcher(e *echo.Echo) *Dispatcher {
	return &Dispatcher{e: e}
}

// Mount registers a module under prefix. A prefix equal to, nested in, or
// enclosing an already mounted one is rejected.
func (d *Dispatcher) Mount(prefix string, register func(g *echo.Group)) error {
	if !strings.HasPrefix(prefix, "/") || prefix == "/" || strings.HasSuffix(prefix, "/") {
		return fmt.Errorf("invalid module prefix %q", prefix)
	}
	for _, existing := range d.mounted {
		if overlaps(existing, prefix) {
			return fmt.Errorf("module prefix %q overlaps %q", prefix, existing)
		}
	}
	d.mounted = append(d.mounted, prefix)
	register(d.e.Group(prefix))
	return nil
}

func (d *Dispatcher) Prefixes() []string {
	return append([]string(nil), d.mounted...)
}

func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}
