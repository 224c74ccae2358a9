package sora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("sora: api key is required")

const defaultBaseURL = "https://api.openai.com/v1"

// Options configures the Sora video generation client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Sora video API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type jobResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout == 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// Submit creates a new video generation job.
func (c *Client) Submit(ctx context.Context, req domain.GenerationRequest) (*domain.ProviderJob, error) {
	payload := map[string]any{
		"prompt":  req.Prompt,
		"model":   req.Model,
		"size":    req.Size,
		"seconds": req.DurationSeconds,
	}
	var resp jobResponse
	if err := c.doJSON(ctx, http.MethodPost, "/videos", payload, &resp); err != nil {
		return nil, &domain.ProviderError{Op: "submit", Message: errMessage(err)}
	}
	return &domain.ProviderJob{ID: resp.ID, State: mapState(resp.Status)}, nil
}

// Remix creates a derivative job from an existing provider job.
func (c *Client) Remix(ctx context.Context, providerJobID, prompt string) (*domain.ProviderJob, error) {
	payload := map[string]any{"prompt": prompt}
	var resp jobResponse
	if err := c.doJSON(ctx, http.MethodPost, "/videos/"+providerJobID+"/remix", payload, &resp); err != nil {
		return nil, &domain.ProviderError{Op: "remix", Message: errMessage(err)}
	}
	return &domain.ProviderJob{ID: resp.ID, State: mapState(resp.Status)}, nil
}

// Status fetches the current state of a provider job.
func (c *Client) Status(ctx context.Context, providerJobID string) (*domain.ProviderJobStatus, error) {
	var resp jobResponse
	if err := c.doJSON(ctx, http.MethodGet, "/videos/"+providerJobID, nil, &resp); err != nil {
		return nil, &domain.ProviderError{Op: "status", Message: errMessage(err)}
	}
	status := &domain.ProviderJobStatus{
		State:    mapState(resp.Status),
		Progress: resp.Progress,
	}
	if resp.Error != nil {
		status.ErrorMessage = resp.Error.Message
	}
	return status, nil
}

// FetchArtifact downloads the rendered content for a completed job.
func (c *Client) FetchArtifact(ctx context.Context, providerJobID string, variant domain.ArtifactVariant) ([]byte, error) {
	path := "/videos/" + providerJobID + "/content"
	if variant != domain.ArtifactVideo {
		path += "?variant=" + string(variant)
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, &domain.ProviderError{Op: "fetch", Message: err.Error()}
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{Op: "fetch", Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ProviderError{Op: "fetch", Message: readAPIError(resp)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Op: "fetch", Message: err.Error()}
	}
	return data, nil
}

// Cancel deletes a provider job. Used for user-initiated removal.
func (c *Client) Cancel(ctx context.Context, providerJobID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/videos/"+providerJobID, nil, nil); err != nil {
		return &domain.ProviderError{Op: "cancel", Message: errMessage(err)}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	httpReq, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readAPIError(resp)
		if c.logger != nil {
			c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Str("message", msg).Msg("sora: api error")
		}
		return errors.New(msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

func errMessage(err error) string {
	return err.Error()
}

func readAPIError(resp *http.Response) string {
	var apiErr errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	return fmt.Sprintf("unexpected status %d", resp.StatusCode)
}

func mapState(status string) domain.ProviderState {
	switch strings.ToLower(status) {
	case "queued":
		return domain.ProviderStateQueued
	case "completed":
		return domain.ProviderStateCompleted
	case "failed", "error":
		return domain.ProviderStateFailed
	default:
		return domain.ProviderStateInProgress
	}
}

var _ domain.Generator = (*Client)(nil)
