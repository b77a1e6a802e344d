package chat

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
)

// ServiceClient talks to the prediction service's own chat endpoints. The
// service keeps the transcript server-side under a token, so only the newest
// message is sent on each turn.
type ServiceClient struct {
	baseURL    string
	userID     string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewServiceClient creates a client for the chat service at serverURL
func NewServiceClient(serverURL, userID string) *ServiceClient {
	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}
	if userID == "" {
		userID = "user-id"
	}
	return &ServiceClient{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Reply sends the last message of history and returns the response
func (c *ServiceClient) Reply(ctx context.Context, history []Message) (string, error) {
	if len(history) == 0 {
		return "", errors.New("empty history")
	}

	token, err := c.session(ctx)
	if err != nil {
		return "", err
	}

	var out struct {
		Response string `json:"response"`
	}
	form := url.Values{"token": {token}, "message": {history[len(history)-1].Text}}
	if err := c.postForm(ctx, "/respond_message/", form, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Forget drops the server-side session token so the next Reply starts fresh
func (c *ServiceClient) Forget() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *ServiceClient) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.postForm(ctx, "/initialize_chat/", url.Values{"user_id": {c.userID}}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("chat service returned no token")
	}
	c.token = out.Token
	return c.token, nil
}

func (c *ServiceClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat service returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
