// Package tibber implements a resilient client for the unofficial Tibber
// GraphQL API: token-bucket rate limiting, bounded retries with jittered
// exponential backoff, serialized token refresh, and cache-aside reads.
package tibber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridlens/gridlens/internal/core"
	"github.com/gridlens/gridlens/internal/core/cache"
	"github.com/gridlens/gridlens/internal/core/engine"
)

const (
	defaultMaxRetries     = 3
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = time.Minute
	defaultAuthTimeout    = 10 * time.Second
	defaultRequestTimeout = 20 * time.Second

	// Tokens are refreshed this long before their expiry so long-running
	// requests never race the deadline.
	tokenRefreshBuffer = 10 * time.Minute

	// The auth endpoint does not report a lifetime; observed tokens are
	// valid for an hour.
	tokenLifetime = time.Hour

	jitterRange = 0.3
	minBackoff  = 100 * time.Millisecond
)

// Config carries client dependencies and credentials. HTTPClient, Limiter,
// Cache and Logger may be nil; sensible defaults are used.
type Config struct {
	Email    string
	Password string

	AuthURL    string
	GraphQLURL string

	HTTPClient *http.Client
	Limiter    *engine.MultiTierLimiter
	Cache      *cache.Cache
	Logger     *zap.Logger

	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AuthTimeout    time.Duration
	RequestTimeout time.Duration

	Clock func() time.Time
}

// Client talks to the unofficial Tibber API. Safe for concurrent use: the
// token slot is guarded by a mutex and concurrent refreshes collapse into a
// single authentication call.
type Client struct {
	email    string
	password string

	authURL    string
	graphqlURL string

	httpClient *http.Client
	limiter    *engine.MultiTierLimiter
	cache      *cache.Cache
	logger     *zap.Logger

	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	authTimeout    time.Duration
	requestTimeout time.Duration

	clock func() time.Time

	// authMu serializes token refresh and is intentionally held across the
	// authentication network call so concurrent callers observe the
	// refreshed token instead of re-issuing the request.
	authMu      sync.Mutex
	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	initMu      sync.Mutex
	initialized bool
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	c := &Client{
		email:          cfg.Email,
		password:       cfg.Password,
		authURL:        cfg.AuthURL,
		graphqlURL:     cfg.GraphQLURL,
		httpClient:     cfg.HTTPClient,
		limiter:        cfg.Limiter,
		cache:          cfg.Cache,
		logger:         cfg.Logger,
		maxRetries:     cfg.MaxRetries,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		authTimeout:    cfg.AuthTimeout,
		requestTimeout: cfg.RequestTimeout,
		clock:          cfg.Clock,
	}

	if c.authURL == "" {
		c.authURL = DefaultAuthURL
	}
	if c.graphqlURL == "" {
		c.graphqlURL = DefaultGraphQLURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.limiter == nil {
		c.limiter = engine.NewMultiTierLimiter(engine.LimiterConfig{}, nil, c.logger)
	}
	if c.cache == nil {
		c.cache = cache.New(c.logger)
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = defaultMaxDelay
	}
	if c.authTimeout <= 0 {
		c.authTimeout = defaultAuthTimeout
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.clock == nil {
		c.clock = time.Now
	}

	return c
}

// Initialize restores the rate limiter from persisted state. Must be called
// once before any request method; repeated calls are no-ops.
func (c *Client) Initialize(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.limiter.Initialize(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Authenticate validates the configured credentials by fetching a token.
// Used during account setup before any data is requested.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.ensureToken(ctx, false)
	return err
}

// CacheStats reports response cache efficiency.
func (c *Client) CacheStats() core.CacheStats {
	return c.cache.Stats()
}

// InvalidateCache drops every cached response.
func (c *Client) InvalidateCache() {
	c.cache.Invalidate("", nil)
}

// LimiterState reports current rate limiter token counts.
func (c *Client) LimiterState() core.LimiterSnapshot {
	return c.limiter.State()
}

// ResetLimiter restores both rate limiter tiers to full capacity and drops
// any persisted limiter state so the reset survives a restart.
func (c *Client) ResetLimiter(ctx context.Context) error {
	c.limiter.Reset()
	return c.limiter.Forget(ctx)
}

// GetHomes fetches the account's homes, dropping records without an ID.
func (c *Client) GetHomes(ctx context.Context) ([]core.Home, error) {
	args := map[string]string{"email": c.email}
	if cached, ok := c.cache.Get("get_homes", args); ok {
		if homes, ok := cached.([]core.Home); ok {
			return homes, nil
		}
	}

	var payload struct {
		Me struct {
			Homes []core.Home `json:"homes"`
		} `json:"me"`
	}
	if err := c.graphqlRequest(ctx, "get_homes", homesQuery, nil, &payload); err != nil {
		return nil, err
	}

	homes := make([]core.Home, 0, len(payload.Me.Homes))
	for _, home := range payload.Me.Homes {
		if home.ID == "" {
			c.logger.Warn("dropping home record without id")
			continue
		}
		homes = append(homes, home)
	}
	c.logger.Info("fetched homes", zap.Int("count", len(homes)))

	c.cache.SetSmart("get_homes", homes, cache.DataHomes, args)
	return homes, nil
}

// GetDevices fetches the devices registered on a home, dropping records
// without a type. homeID must be a canonical UUID; malformed IDs fail before
// any network call.
func (c *Client) GetDevices(ctx context.Context, homeID string) ([]core.Device, error) {
	if err := validateHomeID(homeID); err != nil {
		return nil, err
	}

	args := map[string]string{"home_id": homeID}
	if cached, ok := c.cache.Get("get_gizmos", args); ok {
		if devices, ok := cached.([]core.Device); ok {
			return devices, nil
		}
	}

	var payload struct {
		Me struct {
			Home struct {
				Gizmos []core.Device `json:"gizmos"`
			} `json:"home"`
		} `json:"me"`
	}
	vars := map[string]any{"homeId": homeID}
	if err := c.graphqlRequest(ctx, "get_gizmos", gizmosQuery, vars, &payload); err != nil {
		return nil, err
	}

	devices := make([]core.Device, 0, len(payload.Me.Home.Gizmos))
	for _, device := range payload.Me.Home.Gizmos {
		if device.Type == "" {
			c.logger.Warn("dropping device record without type", zap.String("device_id", device.ID))
			continue
		}
		devices = append(devices, device)
	}
	c.logger.Info("fetched devices",
		zap.String("home_id", shortID(homeID)),
		zap.Int("count", len(devices)))

	c.cache.SetSmart("get_gizmos", devices, cache.DataDevices, args)
	return devices, nil
}

// GetRewardHistory fetches grid reward totals for one time window. Both date
// strings must parse as ISO 8601. A window that closed more than a day ago is
// treated as historical and cached far longer than live windows. When the
// upstream reports no data for the window, an all-null period is returned
// rather than an error so aggregate callers degrade gracefully.
func (c *Client) GetRewardHistory(ctx context.Context, homeID, fromDate, toDate string, dailyResolution bool) (core.RewardPeriod, error) {
	var zero core.RewardPeriod

	if err := validateHomeID(homeID); err != nil {
		return zero, err
	}
	if _, err := parseISODate(fromDate); err != nil {
		return zero, newAPIError("get_grid_rewards", "invalid from_date", err)
	}
	to, err := parseISODate(toDate)
	if err != nil {
		return zero, newAPIError("get_grid_rewards", "invalid to_date", err)
	}

	resolution := "monthly"
	if dailyResolution {
		resolution = "daily"
	}

	dataType := cache.DataMonthlyRewards
	if dailyResolution {
		dataType = cache.DataDailyRewards
	}
	if to.Before(c.clock().UTC().Add(-24 * time.Hour)) {
		dataType = cache.DataHistoricalRewards
	}

	args := map[string]string{
		"home_id":    homeID,
		"from_date":  fromDate,
		"to_date":    toDate,
		"resolution": resolution,
	}
	if cached, ok := c.cache.Get("get_grid_rewards", args); ok {
		if period, ok := cached.(core.RewardPeriod); ok {
			return period, nil
		}
	}

	var payload struct {
		Me struct {
			Home struct {
				GridRewardsHistoryPeriod *struct {
					From           *string  `json:"from"`
					To             *string  `json:"to"`
					BatteryRewards *float64 `json:"batteryRewards"`
					VehicleRewards *float64 `json:"vehicleRewards"`
					TotalReward    *float64 `json:"totalReward"`
					Currency       *string  `json:"currency"`
				} `json:"gridRewardsHistoryPeriod"`
			} `json:"home"`
		} `json:"me"`
	}
	vars := map[string]any{
		"homeId":   homeID,
		"fromDate": fromDate,
		"toDate":   toDate,
	}
	if err := c.graphqlRequest(ctx, "get_grid_rewards", gridRewardsQuery, vars, &payload); err != nil {
		return zero, err
	}

	record := payload.Me.Home.GridRewardsHistoryPeriod
	if record == nil {
		c.logger.Warn("grid rewards period missing or null",
			zap.String("home_id", shortID(homeID)),
			zap.String("from", fromDate),
			zap.String("to", toDate))
		return zero, nil
	}

	period := core.RewardPeriod{
		EV:       record.VehicleRewards,
		Homevolt: record.BatteryRewards,
		Total:    record.TotalReward,
		Currency: record.Currency,
		From:     record.From,
		To:       record.To,
	}
	c.cache.SetSmart("get_grid_rewards", period, dataType, args)
	return period, nil
}

// ensureToken returns a usable bearer token, refreshing when the cached one
// is inside its expiry buffer. force discards the cached token first (used
// after a 401). Concurrent refreshes serialize on authMu; late arrivals see
// the fresh token via the double check and skip the network call.
func (c *Client) ensureToken(ctx context.Context, force bool) (string, error) {
	if force {
		c.mu.Lock()
		c.token = ""
		c.tokenExpiry = time.Time{}
		c.mu.Unlock()
	} else if token, ok := c.cachedToken(); ok {
		return token, nil
	}

	c.authMu.Lock()
	defer c.authMu.Unlock()

	if token, ok := c.cachedToken(); ok {
		c.logger.Debug("using token obtained by concurrent request")
		return token, nil
	}

	c.logger.Info("token missing or expired, authenticating", zap.String("email", c.email))

	if c.email == "" || !strings.Contains(c.email, "@") {
		return "", newAuthError("authenticate", "invalid email", nil)
	}
	if c.password == "" {
		return "", newAuthError("authenticate", "invalid password", nil)
	}

	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return "", newAPIError("authenticate", "encode credentials", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		token, authErr, retryable := c.authAttempt(ctx, body)
		if authErr == nil {
			return token, nil
		}
		if !retryable {
			return "", authErr
		}

		lastErr = authErr
		if attempt < c.maxRetries-1 {
			wait := c.backoff(attempt)
			c.logger.Warn("authentication network error, retrying",
				zap.Error(authErr),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", c.maxRetries))
			if err := sleepCtx(ctx, wait); err != nil {
				return "", newAPIError("authenticate", "cancelled during backoff", err)
			}
		}
	}

	return "", newAPIError("authenticate", fmt.Sprintf("failed after %d attempts", c.maxRetries), lastErr)
}

// authAttempt performs one authentication request. retryable reports whether
// a failure is transient (network/timeout/unexpected status) as opposed to a
// credential rejection.
func (c *Client) authAttempt(ctx context.Context, body []byte) (token string, err error, retryable bool) {
	reqCtx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.authURL, bytes.NewReader(body))
	if err != nil {
		return "", newAPIError("authenticate", "build request", err), false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err, true
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		snippet := readBodySnippet(resp.Body, 200)
		c.logger.Error("authentication rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("response", snippet))
		return "", newAuthError("authenticate", "invalid email or password", nil), false
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected auth status %d", resp.StatusCode), true
	}

	var authResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", newAPIError("authenticate", "decode response", err), false
	}
	if authResp.Token == "" {
		return "", newAuthError("authenticate", "token not received from API", nil), false
	}

	expiry := c.clock().Add(tokenLifetime)
	c.mu.Lock()
	c.token = authResp.Token
	c.tokenExpiry = expiry
	c.mu.Unlock()

	c.logger.Info("authenticated successfully",
		zap.String("email", c.email),
		zap.Time("token_expiry", expiry))
	return authResp.Token, nil, false
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.clock().Before(c.tokenExpiry.Add(-tokenRefreshBuffer)) {
		return c.token, true
	}
	return "", false
}

// graphqlRequest executes a query with rate limiting, bounded retries, and
// embedded re-authentication, decoding the data field into out.
func (c *Client) graphqlRequest(ctx context.Context, op, query string, variables map[string]any, out any) error {
	if err := c.Initialize(ctx); err != nil {
		return newAPIError(op, "initialize rate limiter", err)
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return newAPIError(op, "cancelled while rate limited", err)
	}
	c.logger.Debug("rate limit acquired", zap.String("op", op))

	payload := map[string]any{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return newAPIError(op, "encode request", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		token, err := c.ensureToken(ctx, false)
		if err != nil {
			return err
		}

		resp, err := c.send(ctx, body, token)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries-1 {
				wait := c.backoff(attempt)
				c.logger.Warn("network error, retrying",
					zap.String("op", op),
					zap.Error(err),
					zap.Duration("wait", wait),
					zap.Int("attempt", attempt+1))
				if err := sleepCtx(ctx, wait); err != nil {
					return newAPIError(op, "cancelled during backoff", err)
				}
				continue
			}
			break
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			// Token expired server-side: refresh once and replay the
			// request with the new token outside the attempt budget.
			c.logger.Warn("token rejected (401), re-authenticating", zap.String("op", op))
			drain(resp)
			freshToken, err := c.ensureToken(ctx, true)
			if err != nil {
				return err
			}
			retryResp, err := c.send(ctx, body, freshToken)
			if err != nil {
				lastErr = err
				if attempt < c.maxRetries-1 {
					if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
						return newAPIError(op, "cancelled during backoff", err)
					}
					continue
				}
				break
			}
			if retryResp.StatusCode >= 500 {
				lastErr = fmt.Errorf("server error %d after re-authentication", retryResp.StatusCode)
				drain(retryResp)
				if attempt < c.maxRetries-1 {
					if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
						return newAPIError(op, "cancelled during backoff", err)
					}
					continue
				}
				break
			}
			if retryResp.StatusCode >= 400 {
				snippet := readBodySnippet(retryResp.Body, 500)
				drain(retryResp)
				return newAPIError(op, fmt.Sprintf("request failed with status %d after re-authentication: %s", retryResp.StatusCode, snippet), nil)
			}
			return c.decodeGraphQL(op, retryResp, out)

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp)
			if wait <= 0 {
				wait = c.backoff(attempt)
			}
			drain(resp)
			lastErr = fmt.Errorf("rate limited (429)")
			c.logger.Warn("rate limited by upstream",
				zap.String("op", op),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt+1))
			if err := sleepCtx(ctx, wait); err != nil {
				return newAPIError(op, "cancelled during backoff", err)
			}
			continue

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			drain(resp)
			if attempt < c.maxRetries-1 {
				wait := c.backoff(attempt)
				c.logger.Warn("server error, retrying",
					zap.String("op", op),
					zap.Int("status", resp.StatusCode),
					zap.Duration("wait", wait),
					zap.Int("attempt", attempt+1))
				if err := sleepCtx(ctx, wait); err != nil {
					return newAPIError(op, "cancelled during backoff", err)
				}
				continue
			}

		case resp.StatusCode >= 400:
			snippet := readBodySnippet(resp.Body, 500)
			drain(resp)
			return newAPIError(op, fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, snippet), nil)

		default:
			return c.decodeGraphQL(op, resp, out)
		}
	}

	return newAPIError(op, fmt.Sprintf("failed after %d attempts", c.maxRetries), lastErr)
}

func (c *Client) send(ctx context.Context, body []byte, token string) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	resp, err := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return c.httpClient.Do(req)
	}()
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// decodeGraphQL parses the response envelope. A non-empty errors array is a
// hard failure regardless of HTTP status.
func (c *Client) decodeGraphQL(op string, resp *http.Response, out any) error {
	defer drain(resp)

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return newAPIError(op, "decode response", err)
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, gqlErr := range envelope.Errors {
			messages = append(messages, gqlErr.Message)
		}
		c.logger.Error("graphql errors returned",
			zap.String("op", op),
			zap.Strings("errors", messages))
		return newAPIError(op, "graphql query failed: "+strings.Join(messages, ", "), nil)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return newAPIError(op, "decode data", err)
		}
	}
	return nil
}

// backoff computes the delay before retry attempt+1: exponential from the
// base delay, capped, with ±30% symmetric jitter so multiple client
// instances do not retry in lockstep.
func (c *Client) backoff(attempt int) time.Duration {
	base := float64(c.baseDelay) * float64(uint64(1)<<uint(attempt))
	if base > float64(c.maxDelay) {
		base = float64(c.maxDelay)
	}
	jitter := base * jitterRange * (2*rand.Float64() - 1)
	wait := time.Duration(base + jitter)
	if wait < minBackoff {
		wait = minBackoff
	}
	return wait
}

func validateHomeID(homeID string) error {
	if len(homeID) != 36 {
		return newAPIError("validate", "invalid home id: must be a valid UUID", nil)
	}
	if _, err := uuid.Parse(homeID); err != nil {
		return newAPIError("validate", "invalid home id: must be a valid UUID", err)
	}
	return nil
}

// parseISODate accepts the ISO 8601 shapes callers produce: RFC 3339,
// zone-less date-times, and bare dates.
func parseISODate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("date is required")
	}
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func retryAfter(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	if parsed, err := http.ParseTime(value); err == nil {
		return time.Until(parsed)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func readBodySnippet(r io.Reader, limit int64) string {
	data, _ := io.ReadAll(io.LimitReader(r, limit))
	return string(data)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// cancelReadCloser ties a request's timeout cancel func to body close so the
// context is not released before the caller reads the response.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
