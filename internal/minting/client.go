package minting

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/chessdao/backend/internal/config"
	"github.com/redis/go-redis/v9"
)

const maxAttempts = 3

// Client talks to the bridge minting service that delivers CHESS on-chain
type Client struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	rdb          *redis.Client
	httpClient   *http.Client
	cacheKey     string
}

// NewClient creates a minting client, or returns nil when minting is not configured
func NewClient(cfg *config.Config, rdb *redis.Client) *Client {
	if cfg == nil || cfg.MintBaseURL == "" || cfg.MintClientID == "" || cfg.MintClientSecret == "" {
		log.Printf("[MINT] Minting service not fully configured - skipping initialization")
		return nil
	}

	timeout := cfg.MintTimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.MintBaseURL, "/"),
		tokenURL:     cfg.MintTokenURL,
		clientID:     cfg.MintClientID,
		clientSecret: cfg.MintClientSecret,
		rdb:          rdb,
		httpClient:   &http.Client{Timeout: time.Duration(timeout) * time.Second},
		cacheKey:     "mint_token:" + cfg.MintClientID,
	}
}

// getAccessToken fetches or retrieves the cached client-credentials token
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	if c.rdb != nil {
		if token, err := c.rdb.Get(ctx, c.cacheKey).Result(); err == nil && token != "" {
			return token, nil
		}
	}

	log.Printf("[MINT] Fetching new access token")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.tokenURL, bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("no access_token in response")
	}

	// Cache with 90% of expiry time
	if c.rdb != nil && tokenResp.ExpiresIn > 0 {
		ttl := time.Duration(float64(tokenResp.ExpiresIn)*0.9) * time.Second
		if err := c.rdb.Set(ctx, c.cacheKey, tokenResp.AccessToken, ttl).Err(); err != nil {
			log.Printf("[MINT] Failed to cache token: %v", err)
		}
	}
	return tokenResp.AccessToken, nil
}

func (c *Client) dropToken(ctx context.Context) {
	if c.rdb != nil {
		c.rdb.Del(ctx, c.cacheKey)
		log.Printf("[MINT] Auth rejected - cleared cached token")
	}
}

// MintRequest asks the bridge to deliver an amount of CHESS to an account.
// Reference is the exchange record id and makes the call idempotent on the bridge side.
type MintRequest struct {
	Account     string
	AmountMicro int64
	Reference   string
}

// MintResponse is the bridge's answer
type MintResponse struct {
	Status  string `json:"status"`
	TxID    string `json:"tx_id"`
	Message string `json:"message"`
}

// Mint delivers tokens, retrying transport errors and 5xx responses
func (c *Client) Mint(ctx context.Context, req MintRequest) (*MintResponse, error) {
	if c == nil {
		return nil, errors.New("minting client not initialized")
	}

	var token string
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var err error
		token, err = c.getAccessToken(ctx)
		if err == nil {
			break
		}
		lastErr = err
		if err := wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
	if token == "" {
		return nil, fmt.Errorf("failed to get access token: %w", lastErr)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"account":   req.Account,
		"amount":    req.AmountMicro,
		"decimals":  6,
		"reference": req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := c.baseURL + "/api/v1/mint"
	log.Printf("[MINT] Minting %d micro-CHESS to %s ref=%s", req.AmountMicro, req.Account, req.Reference)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", req.Reference)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts-1 {
				if err := wait(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("mint request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.dropToken(ctx)
			return nil, fmt.Errorf("mint failed (auth error): %d", resp.StatusCode)
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("mint failed with status %d: %s", resp.StatusCode, string(body))
			if attempt < maxAttempts-1 {
				if err := wait(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			break
		}

		var mintResp MintResponse
		if err := json.Unmarshal(body, &mintResp); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w (body: %s)", err, string(body))
		}
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusAccepted {
			log.Printf("[MINT] Mint accepted: status=%s tx=%s ref=%s", mintResp.Status, mintResp.TxID, req.Reference)
			return &mintResp, nil
		}

		// 4xx errors - don't retry
		return &mintResp, fmt.Errorf("mint rejected: %d - %s", resp.StatusCode, mintResp.Message)
	}

	return nil, fmt.Errorf("mint failed after retries: %w", lastErr)
}

func wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(100+attempt*200) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
