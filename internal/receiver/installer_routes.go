package receiver

import (
	"fmt"
	"html"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rytswd-lab/socketmode/internal/installer"
)

const (
	DefaultInstallPath     = "/slack/install"
	DefaultRedirectURIPath = "/slack/oauth_redirect"
)

// Installer is the OAuth flow collaborator: URL generation and callback
// handling. Satisfied by *installer.Provider.
type Installer interface {
	GenerateInstallURL(opts installer.InstallURLOptions) (string, error)
	HandleCallback(c echo.Context, opts installer.CallbackOptions) error
}

// InstallerOptions configures the two built-in OAuth routes. Nil options (or
// a nil Provider) disable both routes entirely.
type InstallerOptions struct {
	Provider Installer

	InstallPath     string // default /slack/install
	RedirectURIPath string // default /slack/oauth_redirect

	Scopes     []string
	UserScopes []string
	Metadata   string

	// DirectInstall redirects straight to the authorization URL instead of
	// rendering a landing page.
	DirectInstall bool

	// RenderInstallPage overrides the default landing page HTML.
	RenderInstallPage func(installURL string) string

	CallbackOptions installer.CallbackOptions
}

// installerRoutes derives the two well-known OAuth routes from installer
// configuration. A nil *installerRoutes means OAuth is not configured: both
// predicates stay permanently false.
type installerRoutes struct {
	provider        Installer
	installPath     string
	redirectURIPath string
	urlOptions      installer.InstallURLOptions
	directInstall   bool
	render          func(string) string
	callbackOptions installer.CallbackOptions
}

func newInstallerRoutes(opts *InstallerOptions) *installerRoutes {
	if opts == nil || opts.Provider == nil {
		return nil
	}

	installPath := opts.InstallPath
	if installPath == "" {
		installPath = DefaultInstallPath
	}
	redirectURIPath := opts.RedirectURIPath
	if redirectURIPath == "" {
		redirectURIPath = DefaultRedirectURIPath
	}
	render := opts.RenderInstallPage
	if render == nil {
		render = defaultInstallPage
	}

	return &installerRoutes{
		provider:        opts.Provider,
		installPath:     installPath,
		redirectURIPath: redirectURIPath,
		urlOptions: installer.InstallURLOptions{
			Scopes:     opts.Scopes,
			UserScopes: opts.UserScopes,
			Metadata:   opts.Metadata,
		},
		directInstall:   opts.DirectInstall,
		render:          render,
		callbackOptions: opts.CallbackOptions,
	}
}

// Both paths match case-sensitively and only for GET.

func (ir *installerRoutes) isRedirectURIRequest(req *http.Request) bool {
	return ir != nil && req.Method == http.MethodGet && req.URL.Path == ir.redirectURIPath
}

func (ir *installerRoutes) isInstallPathRequest(req *http.Request) bool {
	return ir != nil && req.Method == http.MethodGet && req.URL.Path == ir.installPath
}

// handleRedirect hands the request to the installer, which owns writing the
// success or failure response.
func (ir *installerRoutes) handleRedirect(c echo.Context) error {
	return ir.provider.HandleCallback(c, ir.callbackOptions)
}

func (ir *installerRoutes) handleInstall(c echo.Context) error {
	installURL, err := ir.provider.GenerateInstallURL(ir.urlOptions)
	if err != nil {
		return fmt.Errorf("failed to generate install URL: %w", err)
	}

	if ir.directInstall {
		return c.Redirect(http.StatusFound, installURL)
	}
	return c.HTML(http.StatusOK, ir.render(installURL))
}

func defaultInstallPage(installURL string) string {
	return fmt.Sprintf(
		`<html><body><a href="%s"><img alt="Add to Slack" height="40" width="139" src="https://platform.slack-edge.com/img/add_to_slack.png" srcset="https://platform.slack-edge.com/img/add_to_slack.png 1x, https://platform.slack-edge.com/img/add_to_slack@2x.png 2x" /></a></body></html>`,
		html.EscapeString(installURL),
	)
}
