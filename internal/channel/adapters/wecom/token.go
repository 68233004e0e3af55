package wecom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const tokenURL = "https://qyapi.weixin.qq.com/cgi-bin/gettoken"

// Tokens are refreshed this long before the platform expiry to avoid using a
// token that dies mid-request.
const tokenSafetyMargin = 200 * time.Second

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// tokenCache caches access tokens per corp/secret pair.
type tokenCache struct {
	client *http.Client
	mu     sync.Mutex
	tokens map[string]cachedToken

	// fetch overrides the HTTP token request in tests.
	fetch func(ctx context.Context, corpID, corpSecret string) (string, int, error)

	now func() time.Time
}

func newTokenCache(client *http.Client) *tokenCache {
	c := &tokenCache{
		client: client,
		tokens: map[string]cachedToken{},
		now:    time.Now,
	}
	c.fetch = c.fetchToken
	return c
}

// Get returns a valid access token, refreshing when the cached one is within
// the safety margin of its expiry.
func (c *tokenCache) Get(ctx context.Context, corpID, corpSecret string) (string, error) {
	key := corpID + "\x00" + corpSecret

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.tokens[key]; ok && c.now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	token, expiresIn, err := c.fetch(ctx, corpID, corpSecret)
	if err != nil {
		return "", err
	}
	c.tokens[key] = cachedToken{
		value:     token,
		expiresAt: c.now().Add(time.Duration(expiresIn)*time.Second - tokenSafetyMargin),
	}
	return token, nil
}

func (c *tokenCache) fetchToken(ctx context.Context, corpID, corpSecret string) (string, int, error) {
	query := url.Values{}
	query.Set("corpid", corpID)
	query.Set("corpsecret", corpSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetch access token: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("decode access token response: %w", err)
	}
	if result.ErrCode != 0 {
		return "", 0, fmt.Errorf("gettoken errcode %d: %s", result.ErrCode, result.ErrMsg)
	}
	if result.ExpiresIn <= 0 {
		result.ExpiresIn = 7200
	}
	return result.AccessToken, result.ExpiresIn, nil
}
