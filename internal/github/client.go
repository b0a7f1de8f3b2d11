// Package github is a minimal GitHub REST client for exporting cards as issues.
package github

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pinnlo/service_layer/internal/httputil"
)

// ErrNotConfigured is returned by New without a token.
var ErrNotConfigured = stderrors.New("github integration not configured")

const apiVersion = "2022-11-28"

// Config configures the client.
type Config struct {
	Token     string
	BaseURL   string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Client creates issues through the GitHub REST API.
type Client struct {
	svc *httputil.ServiceClient
}

// IssueRequest is the body of POST /repos/{owner}/{repo}/issues.
type IssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

// Issue is the subset of the created issue we report.
type Issue struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	return &Client{svc: httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: cfg.BaseURL,
		Headers: map[string]string{
			"Authorization":        "Bearer " + cfg.Token,
			"X-GitHub-Api-Version": apiVersion,
			"User-Agent":           "pinnlo-service",
		},
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
		Breaker:   "github",
	})}, nil
}

// ParseRepo splits "owner/name".
func ParseRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(strings.TrimSpace(repo), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repo must be in owner/name form")
	}
	return parts[0], parts[1], nil
}

// CreateIssue opens one issue.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, in IssueRequest) (Issue, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(repo))
	var out Issue
	if err := c.svc.DoJSON(ctx, http.MethodPost, path, in, &out); err != nil {
		return Issue{}, apiError(err)
	}
	return out, nil
}

func apiError(err error) error {
	var httpErr *httputil.HTTPError
	if !stderrors.As(err, &httpErr) {
		return err
	}
	msg := gjson.Get(httpErr.Body, "message").String()
	if msg == "" {
		msg = httpErr.Body
	}
	return fmt.Errorf("GitHub API error (%d): %s", httpErr.StatusCode, msg)
}
