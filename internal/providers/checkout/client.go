package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("checkout: api key is required")

// Options configures the payment processor client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client retrieves checkout sessions from the payment processor. It is
// the single source of truth for whether a payment settled and how
// many credits it bought; webhook bodies are never trusted directly.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type sessionResponse struct {
	ID            string `json:"id"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
	Metadata      struct {
		UserID  string `json:"user_id"`
		Credits string `json:"credits"`
	} `json:"metadata"`
}

// NewClient constructs a processor client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.stripe.com/v1"
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// RetrieveSession fetches and normalizes one checkout session.
func (c *Client) RetrieveSession(ctx context.Context, sessionRef string) (*domain.PaymentSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/checkout/sessions/"+sessionRef, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkout: retrieve session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		if c.logger != nil {
			c.logger.Warn().Int("status", resp.StatusCode).Str("session_ref", sessionRef).Msg("checkout: api error")
		}
		return nil, fmt.Errorf("checkout: unexpected status %d", resp.StatusCode)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("checkout: decode session: %w", err)
	}

	creditsGranted, _ := strconv.Atoi(session.Metadata.Credits)
	return &domain.PaymentSession{
		Ref:              session.ID,
		Paid:             session.PaymentStatus == "paid",
		AmountTotalCents: session.AmountTotal,
		UserID:           session.Metadata.UserID,
		Credits:          creditsGranted,
	}, nil
}

var _ domain.PaymentProcessor = (*Client)(nil)
