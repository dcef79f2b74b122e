package socketmode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rytswd-lab/socketmode/internal/metrics"
	"github.com/rytswd-lab/socketmode/internal/platform/retry"
)

const (
	defaultOpenURL  = "https://slack.com/api/apps.connections.open"
	openCallTimeout = 10 * time.Second
	writeDeadline   = 5 * time.Second
	// The server pings roughly every 30s; a silent connection past this is dead.
	readTimeout     = 70 * time.Second
	eventBufferSize = 32
)

var ErrAlreadyStarted = errors.New("socketmode: client already started")

// Envelope is one message received over the socket. Payload stays raw so the
// embedding application decides how to decode each envelope type.
type Envelope struct {
	EnvelopeID             string          `json:"envelope_id"`
	Type                   string          `json:"type"`
	Payload                json.RawMessage `json:"payload"`
	AcceptsResponsePayload bool            `json:"accepts_response_payload"`
	RetryAttempt           int             `json:"retry_attempt"`
	RetryReason            string          `json:"retry_reason"`
	Reason                 string          `json:"reason"`
}

type acknowledgement struct {
	EnvelopeID string `json:"envelope_id"`
}

type connectionsOpenResponse struct {
	OK    bool   `json:"ok"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Config configures a Client. AppToken is required. OpenURL, HTTPClient, and
// Dialer exist as injection points for tests.
type Config struct {
	AppToken string

	OpenURL     string
	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
	RetryPolicy retry.Policy
}

// Client is the persistent-socket client. Start and Disconnect must not be
// called concurrently with each other; each is safe to call once per
// connection lifecycle.
type Client struct {
	appToken   string
	openURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	policy     retry.Policy

	events chan Envelope

	mu      sync.Mutex
	started bool
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg Config) *Client {
	if cfg.OpenURL == "" {
		cfg.OpenURL = defaultOpenURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: openCallTimeout}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.Policy{
			MaxAttempts:    10,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("Socket connect failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
			},
		}
	}

	return &Client{
		appToken:   cfg.AppToken,
		openURL:    cfg.OpenURL,
		httpClient: cfg.HTTPClient,
		dialer:     cfg.Dialer,
		policy:     cfg.RetryPolicy,
		events:     make(chan Envelope, eventBufferSize),
	}
}

// Events returns the channel on which received envelopes are delivered.
func (c *Client) Events() <-chan Envelope {
	return c.events
}

// Start establishes the first connection and launches the run loop. It
// returns once connection establishment has succeeded; it does not wait for
// the server's hello frame.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return fmt.Errorf("socketmode: initial connect failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(runCtx, conn, done)
	return nil
}

// Disconnect stops the run loop and closes the connection. Idempotent; it
// waits for the loop to exit or ctx to expire.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel, conn, done := c.cancel, c.conn, c.done
	c.mu.Unlock()

	cancel()
	if conn != nil {
		deadline := time.Now().Add(writeDeadline)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("socketmode: disconnect wait: %w", ctx.Err())
	}
}

// connect opens a fresh socket URL and dials it, retrying transient failures.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, err := retry.Do(ctx, c.policy, func() (*websocket.Conn, error) {
		wssURL, err := c.openConnectionURL(ctx)
		if err != nil {
			return nil, err
		}
		conn, _, err := c.dialer.DialContext(ctx, wssURL, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", wssURL, err)
		}
		return conn, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SocketConnects.Inc()
	slog.Info("Socket connected")
	return conn, nil
}

func (c *Client) openConnectionURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, openCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.openURL, nil)
	if err != nil {
		return "", &retry.Permanent{Err: fmt.Errorf("failed to create open request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.appToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("apps.connections.open returned status %d", resp.StatusCode)
	}

	var open connectionsOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&open); err != nil {
		return "", fmt.Errorf("failed to decode open response: %w", err)
	}
	if !open.OK {
		// Rejections like invalid_auth never heal on retry.
		return "", &retry.Permanent{Err: fmt.Errorf("apps.connections.open rejected: %s", open.Error)}
	}
	return open.URL, nil
}

// run owns the connection until shutdown: reads until the connection drops,
// then reconnects. Exits when ctx is cancelled or reconnection gives up.
func (c *Client) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		cause := c.readLoop(conn)

		if ctx.Err() != nil {
			metrics.SocketDisconnects.WithLabelValues("shutdown").Inc()
			return
		}

		metrics.SocketDisconnects.WithLabelValues(cause).Inc()
		_ = conn.Close()
		slog.Info("Socket disconnected, reconnecting", "cause", cause)

		newConn, err := c.connect(ctx)
		if err != nil {
			slog.Error("Socket reconnect gave up", "error", err)
			return
		}
		conn = newConn

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
	}
}

// readLoop reads envelopes until the connection fails or the server requests
// a disconnect. Returns the disconnect cause for metrics.
func (c *Client) readLoop(conn *websocket.Conn) string {
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeDeadline))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "error"
		}

		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			slog.Warn("Dropping unparseable socket frame", "error", err)
			continue
		}

		metrics.SocketEnvelopes.WithLabelValues(envelope.Type).Inc()

		switch envelope.Type {
		case "hello":
			slog.Info("Socket session established")
		case "disconnect":
			slog.Info("Server requested disconnect", "reason", envelope.Reason)
			return "server_request"
		default:
			c.deliver(conn, envelope)
		}
	}
}

// deliver acknowledges the envelope and hands it to the consumer. A lagging
// consumer drops envelopes rather than stalling the read loop.
func (c *Client) deliver(conn *websocket.Conn, envelope Envelope) {
	if envelope.EnvelopeID != "" {
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteJSON(acknowledgement{EnvelopeID: envelope.EnvelopeID}); err != nil {
			slog.Warn("Failed to acknowledge envelope", "envelope_id", envelope.EnvelopeID, "error", err)
		}
	}

	select {
	case c.events <- envelope:
	default:
		metrics.SocketEnvelopesDropped.Inc()
		slog.Warn("Event buffer full, dropping envelope", "type", envelope.Type, "envelope_id", envelope.EnvelopeID)
	}
}
