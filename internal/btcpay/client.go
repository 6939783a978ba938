// Package btcpay is a thin client for the BTCPay Server Greenfield API.
package btcpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/BatmanBruc/subpay-bot/internal/logging"
	"github.com/BatmanBruc/subpay-bot/internal/metrics"
	"github.com/BatmanBruc/subpay-bot/internal/validation"
	"github.com/BatmanBruc/subpay-bot/types"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultAttempts = 3
	defaultBackoff  = time.Second

	maxResponseBodyBytes int64 = 1 << 20
	currencyUSD                = "USD"
)

var ErrNotConfigured = errors.New("btcpay client is not configured")

type Config struct {
	BaseURL     string
	APIKey      string
	StoreID     string
	BotUsername string
	Expiration  time.Duration
	// Metadata is copied into every invoice for reconciliation on the server side.
	Metadata map[string]string

	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limits     validation.AmountLimits
}

// APIError is a non-2xx Greenfield response.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("btcpay request %s %s failed: status=%d body=%q", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || cfg.APIKey == "" || cfg.StoreID == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Client{
		cfg:        cfg,
		baseURL:    normalizeBaseURL(cfg.BaseURL),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limits:     validation.DefaultAmountLimits(),
	}, nil
}

// normalizeBaseURL strips a trailing slash and any "/stores/..." suffix
// pasted from the BTCPay dashboard.
func normalizeBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if i := strings.Index(base, "/stores/"); i >= 0 {
		base = base[:i]
	}
	return base
}

type checkoutOptions struct {
	SpeedPolicy       string   `json:"speedPolicy"`
	PaymentMethods    []string `json:"paymentMethods"`
	ExpirationMinutes int      `json:"expirationMinutes,omitempty"`
	RedirectURL       string   `json:"redirectURL,omitempty"`
}

type createInvoiceRequest struct {
	Amount   string            `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
	Checkout checkoutOptions   `json:"checkout"`
}

type invoiceResponse struct {
	ID           string          `json:"id"`
	CheckoutLink string          `json:"checkoutLink"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
}

// CreateInvoice opens a USD invoice for userID. Network errors and 5xx
// answers are retried with exponential backoff.
func (c *Client) CreateInvoice(ctx context.Context, userID int64, amount decimal.Decimal) (inv *types.Invoice, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		metrics.InvoicesCreatedTotal.WithLabelValues(result).Inc()
	}()

	if !validation.ValidateUserID(userID) {
		return nil, fmt.Errorf("invalid user id %d", userID)
	}
	if !validation.ValidateAmount(amount, c.limits) {
		return nil, fmt.Errorf("invalid invoice amount %s", amount.StringFixed(2))
	}

	metadata := map[string]string{
		"orderId": "sub_" + strconv.FormatInt(userID, 10) + "_" + uuid.NewString()[:8],
		"userId":  strconv.FormatInt(userID, 10),
	}
	for k, v := range c.cfg.Metadata {
		metadata[k] = v
	}
	req := createInvoiceRequest{
		Amount:   amount.Round(2).StringFixed(2),
		Currency: currencyUSD,
		Metadata: metadata,
		Checkout: checkoutOptions{
			SpeedPolicy:       "HighSpeed",
			PaymentMethods:    []string{"BTC", "BTC-LightningNetwork"},
			ExpirationMinutes: int(c.cfg.Expiration.Minutes()),
		},
	}
	if c.cfg.BotUsername != "" {
		req.Checkout.RedirectURL = "https://t.me/" + c.cfg.BotUsername
	}

	path := "/api/v1/stores/" + c.cfg.StoreID + "/invoices"
	var resp invoiceResponse
	if err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, path, req, &resp)
	}); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("BTCPay invoice creation failed")
		return nil, err
	}
	if resp.ID == "" || resp.CheckoutLink == "" {
		return nil, fmt.Errorf("btcpay returned an incomplete invoice")
	}
	if resp.Currency == "" {
		resp.Currency = currencyUSD
	}
	log.Info().Str("invoice", logging.InvoicePrefix(resp.ID)).Int64("user_id", userID).
		Str("amount", amount.StringFixed(2)).Msg("BTCPay invoice created")
	return &types.Invoice{
		ID:           resp.ID,
		CheckoutLink: resp.CheckoutLink,
		Amount:       resp.Amount,
		Currency:     resp.Currency,
		Status:       resp.Status,
	}, nil
}

// Health probes the server's unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

func (c *Client) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(c.cfg.Attempts-1), retry.NewExponential(c.cfg.Backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("BTCPay request failed, retrying")
		return retry.RetryableError(err)
	})
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) (err error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode btcpay request %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build btcpay request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "token "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("btcpay request %s %s failed: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close btcpay response body: %w", closeErr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: text}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(dest); err != nil {
		return fmt.Errorf("decode btcpay response %s %s: %w", method, path, err)
	}
	return nil
}
