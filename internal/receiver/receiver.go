package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// DefaultPort is used when Options.Port is zero.
const DefaultPort = 3000

// ErrNoSocketClient is returned by Start/Stop when the receiver was built
// without a socket client.
var ErrNoSocketClient = errors.New("receiver: no socket client configured")

// SocketClient is the persistent-socket collaborator. Start resolves once
// connection establishment has been initiated; Disconnect once teardown has.
// Retry policy belongs to the client, not the receiver.
type SocketClient interface {
	Start(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Options configures a Receiver. Zero values get defaults; a nil Installer
// disables the OAuth routes; a nil SocketClient leaves Start/Stop erroring.
type Options struct {
	Port        int
	TLSCertFile string
	TLSKeyFile  string

	Installer    *InstallerOptions
	CustomRoutes []CustomRoute
	SocketClient SocketClient

	// Listener overrides Port when set; the test seam for binding.
	Listener net.Listener

	// Rate limit for the OAuth endpoints. Zero means defaults.
	OAuthRatePerSecond float64
	OAuthBurst         int
}

// Receiver owns the HTTP server and delegates socket lifecycle to the
// configured client. Route configuration is immutable after New; dispatch
// reads it without locking. ListenAndServe/Shutdown and Start/Stop must not
// race each other; that coordination is the caller's responsibility.
type Receiver struct {
	echo      *echo.Echo
	port      int
	certFile  string
	keyFile   string
	listener  net.Listener
	routes    *routeTable
	installer *installerRoutes
	client    SocketClient
}

// New validates the custom routes and builds the receiver. Malformed routes
// fail here with ErrCustomRouteInit, before any server is started.
func New(opts Options) (*Receiver, error) {
	table, err := newRouteTable(opts.CustomRoutes)
	if err != nil {
		return nil, err
	}

	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.OAuthRatePerSecond == 0 {
		opts.OAuthRatePerSecond = defaultOAuthRatePerSecond
	}
	if opts.OAuthBurst == 0 {
		opts.OAuthBurst = defaultOAuthBurst
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	r := &Receiver{
		echo:      e,
		port:      opts.Port,
		certFile:  opts.TLSCertFile,
		keyFile:   opts.TLSKeyFile,
		listener:  opts.Listener,
		routes:    table,
		installer: newInstallerRoutes(opts.Installer),
		client:    opts.SocketClient,
	}

	// The dispatcher runs ahead of echo's router so nonstandard methods and
	// unknown paths reach it instead of echo's own 404/405 handling.
	pre := []echo.MiddlewareFunc{middleware.Recover()}
	if r.installer != nil {
		pre = append(pre, newOAuthRateLimiter(
			opts.OAuthRatePerSecond, opts.OAuthBurst,
			r.installer.installPath, r.installer.redirectURIPath,
		))
	}
	pre = append(pre, func(echo.HandlerFunc) echo.HandlerFunc { return r.dispatch })
	e.Pre(pre...)

	return r, nil
}

// ListenAndServe binds to the configured port (or injected listener) and
// serves until Shutdown. Run it on its own goroutine; any returned error
// other than http.ErrServerClosed is a fatal listen failure.
func (r *Receiver) ListenAndServe() error {
	if r.listener != nil {
		r.echo.Listener = r.listener
	}

	addr := fmt.Sprintf(":%d", r.port)
	slog.Info("Starting receiver", "addr", addr, "tls", r.certFile != "")

	if r.certFile != "" {
		return r.echo.StartTLS(addr, r.certFile, r.keyFile)
	}
	return r.echo.Start(addr)
}

// Shutdown drains active connections and returns only once the underlying
// server confirms closure.
func (r *Receiver) Shutdown(ctx context.Context) error {
	return r.echo.Shutdown(ctx)
}

// ServeHTTP exposes the dispatch pipeline as a plain http.Handler.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.echo.ServeHTTP(w, req)
}

// Start delegates to the socket client's connect operation, once per call.
func (r *Receiver) Start(ctx context.Context) error {
	if r.client == nil {
		return ErrNoSocketClient
	}
	return r.client.Start(ctx)
}

// Stop delegates to the socket client's disconnect operation, once per call.
func (r *Receiver) Stop(ctx context.Context) error {
	if r.client == nil {
		return ErrNoSocketClient
	}
	return r.client.Disconnect(ctx)
}
