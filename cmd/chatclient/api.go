package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sessionchat/internal/api"
)

// apiClient reads presence and history from the REST API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{base: base, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Message)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *apiClient) presence(ctx context.Context) (api.PresenceResponse, error) {
	var out api.PresenceResponse
	err := c.get(ctx, "/api/presence", nil, &out)
	return out, err
}

// history returns messages committed after the given sequence.
func (c *apiClient) history(ctx context.Context, sessionID string, after int64) (api.MessagesResponse, error) {
	var out api.MessagesResponse
	query := url.Values{"after": {strconv.FormatInt(after, 10)}}
	err := c.get(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/messages", query, &out)
	return out, err
}
