package hieratika

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dyluth/hieratika/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Options tunes a Client. The zero value is usable.
type Options struct {
	HTTPClient *http.Client  // defaults to a client with Timeout
	Timeout    time.Duration // request timeout when HTTPClient is nil (default 30s)
	RateLimit  float64       // requests per second, 0 disables limiting
	Burst      int           // limiter burst, defaults to 1
	Logger     *zap.Logger   // defaults to a no-op logger
}

// Client issues one HTTP request per server operation.
// It holds the session token and the server-assigned stream tid, and is safe
// for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu                    sync.RWMutex
	token                 string
	tid                   string
	user                  *User
	invalidTokenListeners []func()
}

// NewClient creates a client for the server at baseURL (scheme and host, an
// optional path prefix is kept).
func NewClient(baseURL string, opts *Options) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("server url cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	if opts == nil {
		opts = &Options{}
	}

	c := &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the session token, e.g. with one restored from disk.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Tid returns the stream thread identifier sent by the server in its reset
// message. It is echoed on updates so the server does not stream a client's
// own changes back to it.
func (c *Client) Tid() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tid
}

// SetTid records the stream thread identifier.
func (c *Client) SetTid(tid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tid = tid
}

// User returns the logged in user, or nil.
func (c *Client) User() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// SetUser records the logged in user (and its token).
func (c *Client) SetUser(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
	if u != nil {
		c.token = u.Token
	}
}

// OnInvalidToken registers fn to be called whenever the server rejects the
// session token. Listeners run synchronously, in registration order, before
// the failing operation returns ErrInvalidToken.
func (c *Client) OnInvalidToken(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidTokenListeners = append(c.invalidTokenListeners, fn)
}

func (c *Client) fireInvalidToken() {
	c.mu.RLock()
	listeners := make([]func(), len(c.invalidTokenListeners))
	copy(listeners, c.invalidTokenListeners)
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

// call posts form to path and returns the trimmed reply body.
// The token field is added unless anonymous is set.
func (c *Client) call(ctx context.Context, path string, form url.Values, anonymous bool) (string, error) {
	if form == nil {
		form = url.Values{}
	}
	if !anonymous {
		form.Set("token", c.Token())
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRequest(path, metrics.OutcomeTransport, time.Since(start))
		c.logger.Debug("request failed", zap.String("path", path), zap.Error(err))
		return "", &TransportError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveRequest(path, metrics.OutcomeTransport, time.Since(start))
		return "", &TransportError{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read reply: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveRequest(path, metrics.OutcomeTransport, time.Since(start))
		return "", &TransportError{Path: path, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	reply := strings.TrimSpace(string(body))
	c.logger.Debug("request done",
		zap.String("path", path),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	if reply == ReplyInvalidToken {
		metrics.ObserveRequest(path, metrics.OutcomeInvalidToken, time.Since(start))
		c.fireInvalidToken()
		return "", ErrInvalidToken
	}
	if codeError(reply) != nil {
		metrics.ObserveRequest(path, metrics.OutcomeRejected, time.Since(start))
	} else {
		metrics.ObserveRequest(path, metrics.OutcomeOK, time.Since(start))
	}
	return reply, nil
}

// decode unmarshals a JSON reply, mapping reply codes to their sentinels.
func decode(path, reply string, v any) error {
	if reply == "" {
		return ErrEmptyReply
	}
	if err := codeError(reply); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(reply), v); err != nil {
		return &TransportError{Path: path, Err: fmt.Errorf("failed to decode reply: %w", err)}
	}
	return nil
}

// expectOK accepts only the ok reply.
func expectOK(reply string) error {
	switch {
	case reply == ReplyOK:
		return nil
	case reply == "":
		return ErrEmptyReply
	case codeError(reply) != nil:
		return codeError(reply)
	}
	return fmt.Errorf("%w: unexpected reply %q", ErrUnknown, reply)
}

// expectAccepted accepts any reply that is not a rejection code.
func expectAccepted(reply string) error {
	return codeError(reply)
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode request field: %w", err)
	}
	return string(b), nil
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*User, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	reply, err := c.call(ctx, PathLogin, form, true)
	if err != nil {
		return nil, err
	}
	var user User
	if err := decode(PathLogin, reply, &user); err != nil {
		return nil, err
	}
	if user.Username == "" {
		return nil, ErrLoginFailed
	}
	c.SetUser(&user)
	c.logger.Info("logged in", zap.String("username", user.Username))
	return &user, nil
}

// Logout ends the session. The local token is cleared even when the server
// call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.call(ctx, PathLogout, nil, false)

	c.mu.Lock()
	c.token = ""
	c.tid = ""
	c.user = nil
	c.mu.Unlock()

	if err != nil && !errors.Is(err, ErrInvalidToken) {
		return err
	}
	return nil
}

// GetUsers lists every user known to the server.
func (c *Client) GetUsers(ctx context.Context) ([]User, error) {
	reply, err := c.call(ctx, PathGetUsers, nil, false)
	if err != nil {
		return nil, err
	}
	var users []User
	if err := decode(PathGetUsers, reply, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser fetches a single user. An empty reply means the user does not exist.
func (c *Client) GetUser(ctx context.Context, username string) (*User, error) {
	form := url.Values{}
	form.Set("username", username)
	reply, err := c.call(ctx, PathGetUser, form, false)
	if err != nil {
		return nil, err
	}
	if reply == "" {
		return nil, ErrNotFound
	}
	var user User
	if err := decode(PathGetUser, reply, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetPages lists the configuration pages.
func (c *Client) GetPages(ctx context.Context) ([]Page, error) {
	reply, err := c.call(ctx, PathGetPages, nil, false)
	if err != nil {
		return nil, err
	}
	var pages []Page
	if err := decode(PathGetPages, reply, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// GetPage fetches one configuration page by name.
func (c *Client) GetPage(ctx context.Context, name string) (*Page, error) {
	form := url.Values{}
	form.Set("name", name)
	reply, err := c.call(ctx, PathGetPage, form, false)
	if err != nil {
		return nil, err
	}
	var page Page
	if err := decode(PathGetPage, reply, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) variablesInfo(ctx context.Context, path string, form url.Values, names []string) ([]*VariableInfo, error) {
	encoded, err := encodeJSON(names)
	if err != nil {
		return nil, err
	}
	form.Set("variables", encoded)
	reply, err := c.call(ctx, path, form, false)
	if err != nil {
		return nil, err
	}
	var vars []*VariableInfo
	if err := decode(path, reply, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// GetVariablesInfo fetches metadata and plant values of the named variables
// of a page.
func (c *Client) GetVariablesInfo(ctx context.Context, pageName string, names []string) ([]*VariableInfo, error) {
	form := url.Values{}
	form.Set("pageName", pageName)
	return c.variablesInfo(ctx, PathGetVariablesInfo, form, names)
}

// GetLiveVariablesInfo fetches metadata of live (monitored) variables.
func (c *Client) GetLiveVariablesInfo(ctx context.Context, names []string) ([]*VariableInfo, error) {
	return c.variablesInfo(ctx, PathGetLiveVariablesInfo, url.Values{}, names)
}

// GetLibraryVariablesInfo fetches metadata of the variables of a library type.
func (c *Client) GetLibraryVariablesInfo(ctx context.Context, libraryType string, names []string) ([]*VariableInfo, error) {
	form := url.Values{}
	form.Set("libraryType", libraryType)
	return c.variablesInfo(ctx, PathGetLibraryVariablesInfo, form, names)
}

// GetTransformationsInfo lists the transformation functions of a page.
func (c *Client) GetTransformationsInfo(ctx context.Context, pageName string) ([]TransformationInfo, error) {
	form := url.Values{}
	form.Set("pageName", pageName)
	reply, err := c.call(ctx, PathGetTransformationsInfo, form, false)
	if err != nil {
		return nil, err
	}
	var infos []TransformationInfo
	if err := decode(PathGetTransformationsInfo, reply, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Transform starts a transformation on the server and returns its UID.
// Progress arrives later on the event stream as Transformation messages.
func (c *Client) Transform(ctx context.Context, fun string, inputs Values) (string, error) {
	encoded, err := encodeJSON(inputs)
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("fun", fun)
	form.Set("inputs", encoded)
	reply, err := c.call(ctx, PathTransform, form, false)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", ErrEmptyReply
	}
	if err := codeError(reply); err != nil {
		return "", err
	}
	return reply, nil
}

// Statistics fetches the server performance report.
func (c *Client) Statistics(ctx context.Context) (Statistics, error) {
	reply, err := c.call(ctx, PathStatistics, nil, false)
	if err != nil {
		return nil, err
	}
	var stats Statistics
	if err := decode(PathStatistics, reply, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}
