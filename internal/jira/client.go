// Package jira keeps watcher lists in a Jira instance through its REST API.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Fullex26/autowatch/internal/config"
	"github.com/Fullex26/autowatch/pkg/models"
)

const userAgent = "Autowatch/0.1"

// Client talks to /rest/api/2/issue/{issue}/watchers
type Client struct {
	baseURL string
	user    string
	token   string
	client  *http.Client
}

func NewClient(cfg config.JiraConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		user:    cfg.User,
		token:   cfg.Token,
		client:  &http.Client{Timeout: config.Duration(cfg.Timeout, 10*time.Second)},
	}
}

type watcher struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	Key       string `json:"key"`
}

type watchersResponse struct {
	WatchCount int       `json:"watchCount"`
	Watchers   []watcher `json:"watchers"`
}

// IsWatching lists the issue's watchers and looks for user
func (c *Client) IsWatching(ctx context.Context, user models.User, issue models.Issue) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.watchersURL(issue, nil), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var body watchersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decoding watchers: %w", err)
	}
	for _, w := range body.Watchers {
		if user.AccountID != "" && w.AccountID == user.AccountID {
			return true, nil
		}
		if user.Name != "" && (w.Name == user.Name || w.Key == user.Name) {
			return true, nil
		}
	}
	return false, nil
}

// StartWatching adds user to the issue's watchers. Jira treats adding an
// existing watcher as success.
func (c *Client) StartWatching(ctx context.Context, user models.User, issue models.Issue) error {
	if user.ID() == "" {
		return fmt.Errorf("user has no id")
	}
	data, err := json.Marshal(user.ID())
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, c.watchersURL(issue, nil), data)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// StopWatching removes user from the issue's watchers
func (c *Client) StopWatching(ctx context.Context, user models.User, issue models.Issue) error {
	q := url.Values{}
	if user.AccountID != "" {
		q.Set("accountId", user.AccountID)
	} else {
		q.Set("username", user.Name)
	}
	resp, err := c.do(ctx, http.MethodDelete, c.watchersURL(issue, q), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) watchersURL(issue models.Issue, q url.Values) string {
	u := c.baseURL + "/rest/api/2/issue/" + url.PathEscape(issue.Ref()) + "/watchers"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, u string, data []byte) (*http.Response, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	if c.user != "" {
		req.SetBasicAuth(c.user, c.token)
	} else if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira %s failed: %w", method, err)
	}

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("jira returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}
