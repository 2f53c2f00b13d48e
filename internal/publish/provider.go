package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ProviderAccount is one destination account as the Publishing Provider
// reports it. Status is the provider's vocabulary ("connected", "expired", ...).
type ProviderAccount struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
	Status   string `json:"status"`
}

// UploadTarget is a provider-issued write destination for one media file.
// The handle becomes permanent once bytes have been written to WriteURL.
type UploadTarget struct {
	Handle   string `json:"handle"`
	WriteURL string `json:"write_url"`
}

// PostResult is the provider's per-platform delivery outcome for a fan-out post.
type PostResult struct {
	Platform string `json:"platform"`
	Status   string `json:"status"`
	PostID   string `json:"post_id"`
	Error    string `json:"error,omitempty"`
}

type CreatePostRequest struct {
	AccountIDs   []string   `json:"account_ids"`
	MediaHandles []string   `json:"media,omitempty"`
	Caption      string     `json:"caption"`
	Title        string     `json:"title,omitempty"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	ExternalID   string     `json:"external_id"`
}

// Provider is the narrow contract this backend needs from the Publishing
// Provider. The HTTP client below implements it; tests substitute fakes.
type Provider interface {
	ListAccounts(ctx context.Context, externalRef string) ([]ProviderAccount, error)
	CreateUploadTarget(ctx context.Context) (UploadTarget, error)
	CreatePost(ctx context.Context, req CreatePostRequest) (string, error)
	ListResults(ctx context.Context, postID string) ([]PostResult, error)
}

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Limiter *rate.Limiter
}

// NewClientFromEnv builds the provider client from PUBLISHER_API_BASE and
// PUBLISHER_API_KEY. Rate limits default conservatively and can be tuned via
// PUBLISHER_RPS / PUBLISHER_BURST to match the provider's quota policy.
func NewClientFromEnv() *Client {
	base := strings.TrimSpace(os.Getenv("PUBLISHER_API_BASE"))
	if base == "" {
		base = "https://api.publisher.example.com"
	}
	rps := 2.0
	if v := os.Getenv("PUBLISHER_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	burst := 4
	if v := os.Getenv("PUBLISHER_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return &Client{
		BaseURL: base,
		APIKey:  strings.TrimSpace(os.Getenv("PUBLISHER_API_KEY")),
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	_ = res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("publisher_non_2xx status=%d body=%s", res.StatusCode, truncate(string(raw), 800))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("publisher_bad_json: %v", err)
		}
	}
	return nil
}

func (c *Client) ListAccounts(ctx context.Context, externalRef string) ([]ProviderAccount, error) {
	var parsed struct {
		Accounts []ProviderAccount `json:"accounts"`
	}
	path := "/v1/accounts?external_id=" + url.QueryEscape(externalRef)
	if err := c.do(ctx, http.MethodGet, path, nil, &parsed); err != nil {
		return nil, err
	}
	return parsed.Accounts, nil
}

func (c *Client) CreateUploadTarget(ctx context.Context) (UploadTarget, error) {
	var target UploadTarget
	if err := c.do(ctx, http.MethodPost, "/v1/media/targets", map[string]interface{}{}, &target); err != nil {
		return UploadTarget{}, err
	}
	if strings.TrimSpace(target.Handle) == "" || strings.TrimSpace(target.WriteURL) == "" {
		return UploadTarget{}, fmt.Errorf("publisher_empty_upload_target")
	}
	return target, nil
}

func (c *Client) CreatePost(ctx context.Context, req CreatePostRequest) (string, error) {
	var parsed struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/posts", req, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.ID) == "" {
		return "", fmt.Errorf("publisher_empty_post_id")
	}
	return parsed.ID, nil
}

func (c *Client) ListResults(ctx context.Context, postID string) ([]PostResult, error) {
	var parsed struct {
		Results []PostResult `json:"results"`
	}
	path := "/v1/posts/" + url.PathEscape(postID) + "/results"
	if err := c.do(ctx, http.MethodGet, path, nil, &parsed); err != nil {
		return nil, err
	}
	return parsed.Results, nil
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
