package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultTokenSkew = 60 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// TokenCache owns the gateway bearer credential. Token refreshes lazily once
// the cached value is within skew of its advertised expiry (at most half its
// lifetime); concurrent callers share one refresh.
type TokenCache struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	client         *http.Client
	skew           time.Duration
	now            func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time

	group singleflight.Group
}

func NewTokenCache(baseURL, consumerKey, consumerSecret string, client *http.Client) *TokenCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenCache{
		baseURL:        baseURL,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		client:         client,
		skew:           defaultTokenSkew,
		now:            time.Now,
	}
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.now().Before(c.expires) {
		return "", false
	}
	return c.token, true
}

func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	// The shared refresh outlives any one caller; the client timeout bounds it.
	ch := c.group.DoChan("token", func() (any, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		return c.fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached credential, e.g. after the gateway answers 401.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

func (c *TokenCache) fetch(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status: %d, body: %s", resp.StatusCode, string(body))
	}

	var res tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if res.AccessToken == "" {
		return "", errors.New("empty access token")
	}
	ttl, err := strconv.Atoi(res.ExpiresIn)
	if err != nil || ttl <= 0 {
		return "", fmt.Errorf("invalid expires_in %q", res.ExpiresIn)
	}

	lifetime := time.Duration(ttl) * time.Second
	margin := c.skew
	if margin > lifetime/2 {
		margin = lifetime / 2
	}

	c.mu.Lock()
	c.token = res.AccessToken
	c.expires = c.now().Add(lifetime - margin)
	c.mu.Unlock()

	return res.AccessToken, nil
}
