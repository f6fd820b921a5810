package kraken

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/octoit/octoit/pkg/common"
	"github.com/octoit/octoit/pkg/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultURL is the Octopus Energy Italy GraphQL endpoint.
const DefaultURL = "https://api.oeit-kraken.energy/v1/graphql/"

const (
	loginAttempts       = 5
	loginInitialBackoff = time.Second
	loginMaxBackoff     = 30 * time.Second
)

const obtainTokenMutation = `mutation krakenTokenAuthentication($input: ObtainJSONWebTokenInput!) {
  obtainKrakenToken(input: $input) {
    token
    refreshToken
    payload
  }
}`

// Options configure a Client.
type Options struct {
	URL                string
	Timeout            time.Duration
	MinRequestInterval time.Duration
	LogAPIResponses    bool
	LogTokenResponses  bool
}

// Client is an authenticated GraphQL client for a single set of
// credentials. Tokens are only kept in memory.
type Client struct {
	client  *http.Client
	url     string
	limiter *rate.Limiter
	opts    Options

	mu       sync.Mutex
	email    string
	password string
	token    Token

	refreshGroup singleflight.Group
	warnings     *log.Deduper

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient returns a Client that has not logged in yet.
func NewClient(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.MinRequestInterval > 0 {
		limit = rate.Every(opts.MinRequestInterval)
	}
	return &Client{
		client:   common.HTTPClient(opts.Timeout),
		url:      opts.URL,
		limiter:  rate.NewLimiter(limit, 1),
		opts:     opts,
		warnings: log.NewDeduper(),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Token returns the current token.
func (c *Client) Token() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Authenticate logs in with email and password and keeps the credentials so
// the token can be re-derived later. Rejected credentials return *AuthError.
func (c *Client) Authenticate(ctx context.Context, email, password string) (Token, error) {
	if email == "" || password == "" {
		return Token{}, &AuthError{Message: "missing email or password"}
	}
	tok, err := c.login(ctx, map[string]any{"email": email, "password": password})
	if err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.email = email
	c.password = password
	c.token = tok
	c.mu.Unlock()
	return tok, nil
}

// login runs obtainKrakenToken, retrying with exponential backoff while the
// upstream is rate limiting or unreachable.
func (c *Client) login(ctx context.Context, input map[string]any) (Token, error) {
	delay := loginInitialBackoff
	var lastErr error
	for attempt := 1; attempt <= loginAttempts; attempt++ {
		tok, err := c.obtainToken(ctx, input)
		if err == nil {
			return tok, nil
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return Token{}, err
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return Token{}, &AuthError{Message: apiErr.Message, Err: err}
		}
		lastErr = err
		if attempt == loginAttempts {
			break
		}
		log.Ctx(ctx).WarnContext(
			ctx,
			"kraken login failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return Token{}, err
		}
		delay = min(delay*2, loginMaxBackoff)
	}
	return Token{}, fmt.Errorf("login failed after %d attempts: %w", loginAttempts, lastErr)
}

func (c *Client) obtainToken(ctx context.Context, input map[string]any) (Token, error) {
	resp, err := c.post(ctx, "obtainKrakenToken", obtainTokenMutation, map[string]any{"input": input}, "")
	if err != nil {
		return Token{}, err
	}
	if c.opts.LogTokenResponses {
		c.logTokenResponse(ctx, resp)
	}
	if len(resp.Errors) > 0 {
		first := resp.Errors[0]
		if first.Code() == CodeTooManyRequests {
			return Token{}, newGraphQLError("obtainKrakenToken", resp.Errors)
		}
		return Token{}, &AuthError{
			Code:    first.Code(),
			Message: first.Message,
			Err:     newGraphQLError("obtainKrakenToken", resp.Errors),
		}
	}

	var res obtainTokenResult
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		return Token{}, &APIError{Operation: "obtainKrakenToken", Message: "failed to decode token response", Err: err}
	}
	if res.ObtainKrakenToken == nil || res.ObtainKrakenToken.Token == "" {
		return Token{}, &APIError{Operation: "obtainKrakenToken", StatusCode: http.StatusBadGateway, Message: "no token in response"}
	}

	now := c.now()
	expiry, source := tokenExpiry(res.ObtainKrakenToken.Token, res.ObtainKrakenToken.Payload, now)
	log.Ctx(ctx).DebugContext(
		ctx,
		"obtained kraken token",
		slog.String("expirySource", source),
		slog.Duration("lifetime", expiry.Sub(now)),
	)
	return Token{
		AccessToken:  res.ObtainKrakenToken.Token,
		RefreshToken: res.ObtainKrakenToken.RefreshToken,
		Expiry:       expiry,
	}, nil
}

func (c *Client) logTokenResponse(ctx context.Context, resp *Response) {
	var res obtainTokenResult
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &res)
	}
	attrs := []slog.Attr{slog.Int("errors", len(resp.Errors))}
	if res.ObtainKrakenToken != nil {
		attrs = append(attrs,
			slog.String("token", maskToken(res.ObtainKrakenToken.Token)),
			slog.String("payload", string(res.ObtainKrakenToken.Payload)),
		)
	}
	log.Ctx(ctx).LogAttrs(ctx, slog.LevelInfo, "kraken token response", attrs...)
}

// ensureToken returns a token with more than RefreshMargin of life left,
// refreshing it if needed.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok.Valid(c.now()) {
		return tok.AccessToken, nil
	}
	tok, err := c.refresh(ctx, tok.AccessToken)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// refresh replaces the token. Concurrent callers share one in-flight
// refresh. stale is the token the caller saw; if another caller already
// replaced it the new token is returned without contacting the upstream.
func (c *Client) refresh(ctx context.Context, stale string) (Token, error) {
	ch := c.refreshGroup.DoChan("token", func() (any, error) {
		// the refresh outlives any single waiter
		ctx := context.WithoutCancel(ctx)

		c.mu.Lock()
		cur := c.token
		email, password := c.email, c.password
		c.mu.Unlock()

		if cur.AccessToken != "" && cur.AccessToken != stale && cur.Valid(c.now()) {
			return cur, nil
		}
		if email == "" || password == "" {
			return Token{}, &AuthError{Message: "not authenticated"}
		}

		var (
			tok Token
			err error
		)
		if cur.RefreshToken != "" {
			tok, err = c.obtainToken(ctx, map[string]any{"refreshToken": cur.RefreshToken})
			if err != nil {
				log.Ctx(ctx).DebugContext(ctx, "kraken refresh token rejected, logging in again", slog.Any("error", err))
			}
		}
		if cur.RefreshToken == "" || err != nil {
			tok, err = c.login(ctx, map[string]any{"email": email, "password": password})
		}
		if err != nil {
			return Token{}, err
		}
		if tok.RefreshToken == "" {
			tok.RefreshToken = cur.RefreshToken
		}

		c.mu.Lock()
		c.token = tok
		c.mu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

// invalidate drops the token if it is still the one that was rejected.
func (c *Client) invalidate(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.AccessToken == accessToken {
		c.token.AccessToken = ""
		c.token.Expiry = time.Time{}
	}
}

// Request is a GraphQL request body.
type Request struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL response body. Data may be present alongside Errors.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// Execute runs query and decodes data into dest. Any GraphQL error is
// returned as *APIError.
func (c *Client) Execute(ctx context.Context, operation, query string, variables map[string]any, dest any) error {
	resp, err := c.ExecuteRaw(ctx, operation, query, variables)
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return newGraphQLError(operation, resp.Errors)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, dest); err != nil {
		return &APIError{Operation: operation, Message: "failed to decode data", Err: err}
	}
	return nil
}

// ExecuteRaw runs query with a valid token and returns the response even if
// it contains GraphQL errors. If the token is rejected it is refreshed and
// the request is sent exactly once more.
func (c *Client) ExecuteRaw(ctx context.Context, operation, query string, variables map[string]any) (*Response, error) {
	// we try up to 2 times because the token might have expired
	for i := 0; i < 2; i++ {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.post(ctx, operation, query, variables, token)
		if err == nil {
			err = tokenErrorFromResponse(resp)
		}
		var expired *TokenExpiredError
		if errors.As(err, &expired) {
			if i == 0 {
				log.Ctx(ctx).DebugContext(ctx, "kraken token rejected, refreshing", slog.String("operation", operation), slog.Any("error", err))
				c.invalidate(token)
				continue
			}
			return nil, &APIError{
				StatusCode: expired.StatusCode,
				Operation:  operation,
				Codes:      codesOf(expired),
				Message:    "token rejected after refresh",
				Err:        err,
			}
		}
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	// unreachable
	return nil, fmt.Errorf("kraken request %s not sent", operation)
}

func codesOf(e *TokenExpiredError) []string {
	if e.Code == "" {
		return nil
	}
	return []string{e.Code}
}

func tokenErrorFromResponse(resp *Response) error {
	for _, e := range resp.Errors {
		if isTokenExpiredCode(e.Code()) {
			return &TokenExpiredError{Code: e.Code()}
		}
	}
	return nil
}

// post sends a single GraphQL request. An empty token sends the request
// unauthenticated.
func (c *Client) post(ctx context.Context, operation, query string, variables map[string]any, token string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Operation: operation, Err: err}
	}

	body, err := json.Marshal(Request{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Operation: operation, Err: err}
	}

	if c.opts.LogAPIResponses && token != "" {
		log.Ctx(ctx).InfoContext(ctx, "kraken api response", slog.String("operation", operation), slog.Int("status", resp.StatusCode), slog.String("body", string(raw)))
	}

	switch {
	case token != "" && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
		return nil, &TokenExpiredError{StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Operation:  operation,
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	var gr Response
	if err := json.Unmarshal(raw, &gr); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode kraken response", slog.String("operation", operation), slog.Any("error", err))
		return nil, &APIError{StatusCode: resp.StatusCode, Operation: operation, Message: "invalid response body", Err: err}
	}
	if len(gr.Data) == 0 && len(gr.Errors) == 0 {
		return nil, &APIError{StatusCode: resp.StatusCode, Operation: operation, Message: "response contains neither data nor errors"}
	}
	return &gr, nil
}
