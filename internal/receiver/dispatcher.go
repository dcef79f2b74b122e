package receiver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rytswd-lab/socketmode/internal/metrics"
)

// dispatch is the single entry point for every inbound request. Fixed
// priority, first match wins: OAuth redirect, install page, custom routes,
// then 404. Installer routes shadow any custom route registered on the same
// path. Handler errors propagate to echo's error handler; nothing is caught
// or reinterpreted here.
func (r *Receiver) dispatch(c echo.Context) error {
	req := c.Request()

	if r.installer.isRedirectURIRequest(req) {
		metrics.DispatchOutcomes.WithLabelValues("oauth_redirect").Inc()
		return r.installer.handleRedirect(c)
	}

	if r.installer.isInstallPathRequest(req) {
		metrics.DispatchOutcomes.WithLabelValues("install_page").Inc()
		return r.installer.handleInstall(c)
	}

	if handler := r.routes.match(req.URL.Path, req.Method); handler != nil {
		metrics.DispatchOutcomes.WithLabelValues("custom_route").Inc()
		return handler(c)
	}

	metrics.DispatchOutcomes.WithLabelValues("not_found").Inc()
	return c.NoContent(http.StatusNotFound)
}
