package controller

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultLoginTimeout = 30 * time.Second

	// A login is considered stale after this long regardless of any
	// server-side token expiry.
	defaultSessionValidity = 30 * time.Minute

	loginFailureThreshold = 3
	cooldownBase          = 5 * time.Minute
	cooldownMax           = 30 * time.Minute

	backoffBase   = 30 * time.Second
	backoffFactor = 1.5
	backoffMax    = 300 * time.Second
	// Rejections further apart than this window reset the backoff to base.
	backoffWindow = 10 * time.Minute
	jitterFrac    = 0.2

	minRequestInterval   = 5 * time.Second
	defaultRetries       = 2
	unauthenticatedPause = time.Second
	networkRetryStep     = 5 * time.Second
)

// ClientConfig contains configuration for connecting to a controller.
type ClientConfig struct {
	// URL is the base URL of the controller (e.g. https://192.168.1.1)
	URL string

	// Username for authentication
	Username string

	// Password for authentication
	Password string

	// Site is the controller site identifier
	Site string

	// Type selects the API dialect
	Type ControllerType

	// MultiWAN enables per-interface detection and primary-WAN selection
	MultiWAN bool

	// Timeout for routine requests
	Timeout time.Duration

	// LoginTimeout for the login request, typically longer
	LoginTimeout time.Duration

	// SessionValidity is how long a successful login is trusted
	SessionValidity time.Duration

	// Retries is the extra attempt budget per request
	Retries int

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultClientConfig returns a ClientConfig with default values.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Site:               "default",
		Type:               TypeAppliance,
		Timeout:            defaultTimeout,
		LoginTimeout:       defaultLoginTimeout,
		SessionValidity:    defaultSessionValidity,
		Retries:            defaultRetries,
		InsecureSkipVerify: true,
	}
}

// Client is a session-holding controller API client. A single Client
// owns one logical session; instances share no state with each other.
type Client struct {
	cfg     ClientConfig
	dialect dialect

	httpClient  *http.Client
	loginClient *http.Client
	jar         *sessionJar

	// loginMu serializes whole login attempts so concurrent callers
	// cannot double-authenticate.
	loginMu sync.Mutex

	// mu guards all mutable session and rate-limit state below.
	mu            sync.Mutex
	lastLogin     time.Time
	failedLogins  int
	cooldownUntil time.Time
	rejections    int
	lastRejection time.Time
	backoff       time.Duration
	lastRequest   time.Time
	csrfToken     string

	// Injected for tests.
	now    func() time.Time
	sleep  func(time.Duration)
	jitter func(time.Duration) time.Duration
}

// NewClient creates a controller client for the configured dialect.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("controller URL is required")
	}
	d, err := dialectFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	if cfg.Site == "" {
		cfg.Site = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.SessionValidity <= 0 {
		cfg.SessionValidity = defaultSessionValidity
	}
	if cfg.Retries < 0 {
		cfg.Retries = defaultRetries
	}

	jar, err := newSessionJar()
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	return &Client{
		cfg:     cfg,
		dialect: d,
		jar:     jar,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		loginClient: &http.Client{
			Timeout:   cfg.LoginTimeout,
			Transport: transport,
			Jar:       jar,
		},
		now:    time.Now,
		sleep:  time.Sleep,
		jitter: defaultJitter,
	}, nil
}

// Type returns the configured controller dialect.
func (c *Client) Type() ControllerType {
	return c.cfg.Type
}

// MultiWAN reports whether per-interface detection is enabled.
func (c *Client) MultiWAN() bool {
	return c.cfg.MultiWAN
}

// Login authenticates against the controller. It serializes concurrent
// callers, refuses immediately while a cooldown window is open, and on
// success stamps the session and clears failure counters.
func (c *Client) Login() error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.mu.Lock()
	now := c.now()
	if now.Before(c.cooldownUntil) {
		remaining := c.cooldownUntil.Sub(now)
		c.mu.Unlock()
		return &CooldownError{Remaining: remaining}
	}
	c.mu.Unlock()

	c.resetSession()

	payload := c.dialect.loginPayload(c.cfg.Username, c.cfg.Password)
	_, err := c.do(c.loginClient, http.MethodPost, c.dialect.loginPath(), payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failedLogins++
		if IsRateLimited(err) {
			c.rejections++
			c.lastRejection = c.now()
		}
		if c.failedLogins >= loginFailureThreshold {
			d := cooldownDuration(c.failedLogins)
			c.cooldownUntil = c.now().Add(d)
			log.Printf("Login failed %d times in a row, disabling logins for %s", c.failedLogins, d)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	c.lastLogin = c.now()
	c.failedLogins = 0
	c.cooldownUntil = time.Time{}
	return nil
}

// IsAuthenticated reports whether a login has succeeded within the
// session validity window. A stale session forces a re-login on next use.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastLogin.IsZero() && c.now().Sub(c.lastLogin) < c.cfg.SessionValidity
}

// HealthStatus returns a snapshot of connection health with no side
// effects. Callers use it to skip poll cycles entirely when the session
// is already penalized.
func (c *Client) HealthStatus() HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	hs := HealthStatus{
		ConsecutiveRejections: c.rejections,
		LastLogin:             c.lastLogin,
		FailedLogins:          c.failedLogins,
		CanAttemptConnection:  true,
	}
	if now.Before(c.cooldownUntil) {
		hs.InCooldown = true
		hs.CooldownRemaining = c.cooldownUntil.Sub(now)
		hs.CanAttemptConnection = false
	}
	return hs
}

// StartSpeedTest asks the controller to run a speed test. The appliance
// dialect may refuse depending on backend feature availability; the
// rejection surfaces to the caller.
func (c *Client) StartSpeedTest() error {
	path := c.dialect.startTestPath(c.cfg.Site)
	if _, err := c.Request(http.MethodPost, path, c.dialect.startTestPayload()); err != nil {
		return fmt.Errorf("failed to start speed test: %w", err)
	}
	log.Printf("Speed test triggered via %s", path)
	return nil
}

// GetControllerInfo fetches a read-only diagnostic snapshot of the
// backend.
func (c *Client) GetControllerInfo() (*ControllerInfo, error) {
	data, err := c.Request(http.MethodGet, c.dialect.sysinfoPath(c.cfg.Site), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch controller info: %w", err)
	}

	var payload struct {
		Data []struct {
			Name     string `json:"name"`
			Version  string `json:"version"`
			Hostname string `json:"hostname"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse controller info: %w", err)
	}

	info := &ControllerInfo{Type: c.cfg.Type}
	if len(payload.Data) > 0 {
		info.Name = payload.Data[0].Name
		info.Version = payload.Data[0].Version
		info.Hostname = payload.Data[0].Hostname
	}
	return info, nil
}

// TestConnection verifies that the controller is reachable and the
// credentials work.
func (c *Client) TestConnection() error {
	if err := c.ensureAuthenticated(); err != nil {
		return err
	}
	if _, err := c.GetControllerInfo(); err != nil {
		return err
	}
	return nil
}

// Request runs one controller API call through the retry engine with the
// configured attempt budget.
func (c *Client) Request(method, path string, body any) ([]byte, error) {
	return c.request(method, path, body, c.cfg.Retries)
}

// request ensures authentication, enforces the global minimum
// inter-request interval, then executes with typed-error retries:
// rejections back off and re-login, expired sessions re-login after a
// short pause, network failures retry with linear backoff. A success
// clears all rate-limit memory.
func (c *Client) request(method, path string, body any, retries int) ([]byte, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return nil, err
	}
	c.enforceMinInterval()

	var lastErr error
	for attempt := 0; ; attempt++ {
		data, err := c.do(c.httpClient, method, path, body)
		if err == nil {
			c.clearRateLimit()
			return data, nil
		}
		lastErr = err

		if attempt >= retries {
			break
		}
		kind, ok := errKind(err)
		if !ok {
			break
		}
		switch kind {
		case KindRateLimited:
			wait := c.applyRejectionBackoff()
			log.Printf("Request to %s rejected, backing off for %s before re-login", path, wait.Round(time.Second))
			c.sleep(wait)
			if loginErr := c.Login(); loginErr != nil {
				log.Printf("Re-login after rejection failed: %v", loginErr)
			}
		case KindUnauthenticated:
			if loginErr := c.Login(); loginErr != nil {
				return nil, loginErr
			}
			c.sleep(unauthenticatedPause)
		case KindNetwork:
			c.sleep(time.Duration(attempt+1) * networkRetryStep)
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) ensureAuthenticated() error {
	if c.IsAuthenticated() {
		return nil
	}
	return c.Login()
}

// enforceMinInterval sleeps for the deficit when the previous request
// was too recent, independent of any rejection state.
func (c *Client) enforceMinInterval() {
	c.mu.Lock()
	last := c.lastRequest
	deficit := minRequestInterval - c.now().Sub(last)
	c.mu.Unlock()

	if !last.IsZero() && deficit > 0 {
		c.sleep(deficit)
	}
}

// do executes a single HTTP call. It stamps the last-request time
// regardless of outcome and classifies every failure exactly once.
func (c *Client) do(client *http.Client, method, path string, body any) ([]byte, error) {
	defer c.noteRequest()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.cfg.URL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	if c.csrfToken != "" && method != http.MethodGet {
		req.Header.Set("X-Csrf-Token", c.csrfToken)
	}
	c.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	// Appliance controllers rotate the CSRF token in response headers.
	if token := resp.Header.Get("X-Csrf-Token"); token != "" {
		c.mu.Lock()
		c.csrfToken = token
		c.mu.Unlock()
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Endpoint: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	return data, nil
}

func (c *Client) noteRequest() {
	c.mu.Lock()
	c.lastRequest = c.now()
	c.mu.Unlock()
}

// applyRejectionBackoff advances the rate-limit state machine and
// returns the jittered duration to wait. Backoff grows multiplicatively
// while rejections recur within the recurrence window and resets to the
// base value otherwise.
func (c *Client) applyRejectionBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.rejections > 0 && now.Sub(c.lastRejection) <= backoffWindow {
		next := time.Duration(float64(c.backoff) * backoffFactor)
		if next > backoffMax {
			next = backoffMax
		}
		c.backoff = next
	} else {
		c.backoff = backoffBase
	}
	c.rejections++
	c.lastRejection = now
	return c.jitter(c.backoff)
}

func (c *Client) clearRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejections > 0 {
		log.Printf("Request succeeded, clearing %d recorded rejections", c.rejections)
	}
	c.rejections = 0
	c.backoff = 0
}

// resetSession discards cookies, the CSRF token and the last-login
// stamp so the next login starts from a clean slate.
func (c *Client) resetSession() {
	c.jar.reset()

	c.mu.Lock()
	c.csrfToken = ""
	c.lastLogin = time.Time{}
	c.mu.Unlock()
}

// sessionJar is a cookie jar whose contents can be discarded while
// other goroutines are mid-request. http.Client reads its Jar field
// without synchronization, so the field is set once at construction and
// the inner jar is swapped out under a lock instead.
type sessionJar struct {
	mu  sync.Mutex
	jar http.CookieJar
}

func newSessionJar() (*sessionJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &sessionJar{jar: jar}, nil
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// reset replaces the inner jar, dropping every stored cookie.
func (j *sessionJar) reset() {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
}

// cooldownDuration grows with the failure count: 5m at the threshold,
// doubling per extra failure, capped at 30m.
func cooldownDuration(failures int) time.Duration {
	d := cooldownBase
	for i := loginFailureThreshold; i < failures; i++ {
		d *= 2
		if d >= cooldownMax {
			return cooldownMax
		}
	}
	return d
}

// defaultJitter randomizes a duration by ±20% so multiple client
// instances do not retry in lockstep.
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	f := 1 + jitterFrac*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}
