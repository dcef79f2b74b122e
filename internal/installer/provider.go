package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/rytswd-lab/socketmode/internal/metrics"
)

const (
	defaultAuthorizeURL = "https://slack.com/oauth/v2/authorize"
	defaultTokenURL     = "https://slack.com/api/oauth.v2.access"
	defaultStateTTL     = 10 * time.Minute
	httpCallTimeout     = 10 * time.Second
)

// InstallURLOptions are forwarded verbatim into the authorization URL.
type InstallURLOptions struct {
	Scopes     []string
	UserScopes []string
	Metadata   string
}

// InstallResult holds the outcome of a successful oauth.v2.access exchange.
type InstallResult struct {
	AppID              string
	TeamID             string
	TeamName           string
	BotToken           string
	BotUserID          string
	Scope              string
	UserID             string
	UserToken          string
	UserScope          string
	Enterprise         string
	Metadata           string
	IncomingWebhookURL string
}

// CallbackOptions lets the embedding application own the response written
// after the OAuth callback completes. Nil callbacks fall back to minimal
// built-in pages.
type CallbackOptions struct {
	OnSuccess func(c echo.Context, result *InstallResult) error
	OnFailure func(c echo.Context, err error) error
}

// Config configures a Provider. ClientID and ClientSecret are required;
// everything else has defaults. AuthorizeURL, TokenURL, HTTPClient, and
// Clock exist as injection points for tests.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	StateTTL     time.Duration
	AuthorizeURL string
	TokenURL     string
	HTTPClient   *http.Client
	Clock        clockwork.Clock
}

// Provider implements the OAuth install flow: URL generation and callback
// handling. Immutable after construction; safe for concurrent use.
type Provider struct {
	clientID     string
	clientSecret string
	redirectURI  string
	authorizeURL string
	tokenURL     string
	httpClient   *http.Client
	states       *stateStore
}

func New(cfg Config) *Provider {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.StateTTL == 0 {
		cfg.StateTTL = defaultStateTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: httpCallTimeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Provider{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		authorizeURL: cfg.AuthorizeURL,
		tokenURL:     cfg.TokenURL,
		httpClient:   cfg.HTTPClient,
		states:       newStateStore(cfg.Clock, cfg.StateTTL),
	}
}

// GenerateInstallURL builds an authorization URL carrying the requested
// scopes and a fresh single-use state nonce.
func (p *Provider) GenerateInstallURL(opts InstallURLOptions) (string, error) {
	if p.clientID == "" {
		return "", fmt.Errorf("installer: client ID not configured")
	}

	state := p.states.Issue(opts.Metadata)

	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("scope", strings.Join(opts.Scopes, ","))
	params.Set("user_scope", strings.Join(opts.UserScopes, ","))
	params.Set("state", state)
	if p.redirectURI != "" {
		params.Set("redirect_uri", p.redirectURI)
	}

	metrics.InstallURLsGenerated.Inc()
	return p.authorizeURL + "?" + params.Encode(), nil
}

// HandleCallback processes the provider redirect. It owns writing the
// response on this path, through opts or the built-in pages.
func (p *Provider) HandleCallback(c echo.Context, opts CallbackOptions) error {
	if errParam := c.QueryParam("error"); errParam != "" {
		return p.fail(c, opts, fmt.Errorf("installer: authorization denied: %s", errParam))
	}

	code := c.QueryParam("code")
	if code == "" {
		return p.fail(c, opts, fmt.Errorf("installer: missing code parameter"))
	}

	metadata, err := p.states.Consume(c.QueryParam("state"))
	if err != nil {
		return p.fail(c, opts, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), httpCallTimeout)
	defer cancel()

	result, err := p.exchangeCode(ctx, code)
	if err != nil {
		return p.fail(c, opts, err)
	}
	result.Metadata = metadata

	metrics.InstallerCallbacks.WithLabelValues("success").Inc()
	slog.Info("App installed", "team_id", result.TeamID, "team_name", result.TeamName)

	if opts.OnSuccess != nil {
		return opts.OnSuccess(c, result)
	}
	return renderSuccessPage(c, result)
}

func (p *Provider) fail(c echo.Context, opts CallbackOptions, err error) error {
	metrics.InstallerCallbacks.WithLabelValues("failure").Inc()
	slog.Warn("OAuth callback failed", "error", err)

	if opts.OnFailure != nil {
		return opts.OnFailure(c, err)
	}
	return renderFailurePage(c, err)
}

// oauthAccessResponse mirrors the oauth.v2.access envelope. Slack wraps
// both success and failure in an ok/error envelope rather than HTTP status.
type oauthAccessResponse struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error"`
	AppID       string `json:"app_id"`
	AccessToken string `json:"access_token"`
	BotUserID   string `json:"bot_user_id"`
	Scope       string `json:"scope"`
	Team        struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
	AuthedUser struct {
		ID          string `json:"id"`
		Scope       string `json:"scope"`
		AccessToken string `json:"access_token"`
	} `json:"authed_user"`
	Enterprise struct {
		ID string `json:"id"`
	} `json:"enterprise"`
	IncomingWebhook struct {
		URL string `json:"url"`
	} `json:"incoming_webhook"`
}

func (p *Provider) exchangeCode(ctx context.Context, code string) (*InstallResult, error) {
	data := url.Values{}
	data.Set("client_id", p.clientID)
	data.Set("client_secret", p.clientSecret)
	data.Set("code", code)
	if p.redirectURI != "" {
		data.Set("redirect_uri", p.redirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var access oauthAccessResponse
	if err := json.NewDecoder(resp.Body).Decode(&access); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if !access.OK {
		return nil, fmt.Errorf("token exchange rejected: %s", access.Error)
	}

	return &InstallResult{
		AppID:              access.AppID,
		TeamID:             access.Team.ID,
		TeamName:           access.Team.Name,
		BotToken:           access.AccessToken,
		BotUserID:          access.BotUserID,
		Scope:              access.Scope,
		UserID:             access.AuthedUser.ID,
		UserToken:          access.AuthedUser.AccessToken,
		UserScope:          access.AuthedUser.Scope,
		Enterprise:         access.Enterprise.ID,
		IncomingWebhookURL: access.IncomingWebhook.URL,
	}, nil
}

func renderSuccessPage(c echo.Context, result *InstallResult) error {
	body := fmt.Sprintf(
		"<html><body><h2>Success!</h2><p>The app was installed to %s.</p></body></html>",
		html.EscapeString(result.TeamName),
	)
	return c.HTML(http.StatusOK, body)
}

func renderFailurePage(c echo.Context, err error) error {
	body := fmt.Sprintf(
		"<html><body><h2>Oops, something went wrong!</h2><p>%s</p></body></html>",
		html.EscapeString(err.Error()),
	)
	return c.HTML(http.StatusBadRequest, body)
}
