package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Mux is a ServeMux where routes are instrumented unless registered with
// HandleUntraced.
type Mux struct {
	mux *http.ServeMux
}

func NewMux() *Mux {
	return &Mux{
		mux: http.NewServeMux(),
	}
}

// Handle registers the handler with OTel instrumentation, naming the operation
// after the route.
func (m *Mux) Handle(pattern string, handler http.Handler) {
	m.mux.Handle(pattern, otelhttp.NewHandler(handler, RouteName(pattern)))
}

// HandleUntraced registers the handler without instrumentation. Used for
// health checks, which would otherwise dominate the telemetry.
func (m *Mux) HandleUntraced(pattern string, handler http.Handler) {
	m.mux.Handle(pattern, handler)
}

func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mux.ServeHTTP(w, r)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

// RouteName strips a leading HTTP method from a ServeMux pattern, leaving the
// path.
func RouteName(pattern string) string {
	method, route, found := strings.Cut(pattern, " ")
	if found && slices.Contains(methods, method) {
		return route
	}
	return pattern
}
