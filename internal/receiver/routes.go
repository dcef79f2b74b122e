package receiver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrCustomRouteInit rejects malformed custom routes at construction time,
// before any listener exists. A bad route must never surface as a runtime 404.
var ErrCustomRouteInit = errors.New("custom route requires a path, at least one method, and a handler")

// CustomRoute is one caller-registered route: an exact path, a set of HTTP
// methods (matched case-insensitively), and a handler that fully owns the
// response.
type CustomRoute struct {
	Path    string
	Methods []string
	Handler echo.HandlerFunc
}

type compiledRoute struct {
	path    string
	methods map[string]struct{}
	handler echo.HandlerFunc
}

// routeTable holds validated custom routes in registration order. Immutable
// after construction; concurrent match calls need no locking.
type routeTable struct {
	routes []compiledRoute
}

func newRouteTable(routes []CustomRoute) (*routeTable, error) {
	compiled := make([]compiledRoute, 0, len(routes))
	for i, route := range routes {
		if route.Path == "" || len(route.Methods) == 0 || route.Handler == nil {
			return nil, fmt.Errorf("route %d: %w", i, ErrCustomRouteInit)
		}

		methods := make(map[string]struct{}, len(route.Methods))
		for _, method := range route.Methods {
			if method == "" {
				return nil, fmt.Errorf("route %d (%s): %w", i, route.Path, ErrCustomRouteInit)
			}
			methods[strings.ToUpper(method)] = struct{}{}
		}

		compiled = append(compiled, compiledRoute{
			path:    route.Path,
			methods: methods,
			handler: route.Handler,
		})
	}
	return &routeTable{routes: compiled}, nil
}

// match returns the first registered handler whose path equals path exactly
// and whose method set contains method, or nil. A path hit with a method
// miss keeps scanning; no distinct 405 outcome exists.
func (t *routeTable) match(path, method string) echo.HandlerFunc {
	method = strings.ToUpper(method)
	for _, route := range t.routes {
		if route.path != path {
			continue
		}
		if _, ok := route.methods[method]; ok {
			return route.handler
		}
	}
	return nil
}
