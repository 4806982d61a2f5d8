package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"taker-terminal/internal/config"
	"taker-terminal/internal/exchange"
	"taker-terminal/internal/logger"
)

const (
	orderPath    = "/api/cfd/order"
	marginPath   = "/api/calculate/margin"
	withdrawPath = "/api/withdraw"
	syncPath     = "/api/sync"
)

type Client struct {
	cfg        config.DaemonConfig
	httpClient *http.Client
	log        *logger.Entry
}

// errorBody is what the daemon sends alongside a failure status.
type errorBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func NewClient(cfg config.DaemonConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logger.GetLogger().WithComponent("daemon"),
	}
}

var _ exchange.Exchange = (*Client)(nil)

func (c *Client) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) error {
	_, err := c.do(ctx, http.MethodPost, orderPath, req)
	if err != nil {
		return err
	}
	c.log.WithFields(logger.Fields{
		"offer_id": req.OfferID.String(),
		"quantity": req.Quantity.String(),
		"leverage": req.Leverage,
	}).Info("order accepted by daemon")
	return nil
}

func (c *Client) CalculateMargin(ctx context.Context, req *exchange.MarginRequest) (decimal.Decimal, error) {
	body, err := c.do(ctx, http.MethodPost, marginPath, req)
	if err != nil {
		return decimal.Zero, err
	}

	var resp exchange.MarginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse margin response: %w", err)
	}
	return resp.Margin, nil
}

// Withdraw returns the transaction URL the daemon answers with.
func (c *Client) Withdraw(ctx context.Context, req *exchange.WithdrawRequest) (string, error) {
	body, err := c.do(ctx, http.MethodPost, withdrawPath, req)
	if err != nil {
		return "", err
	}

	var url string
	if err := json.Unmarshal(body, &url); err != nil {
		url = strings.TrimSpace(string(body))
	}
	return url, nil
}

func (c *Client) Sync(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPut, syncPath, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &exchange.APIError{Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil {
			apiErr.Description = eb.Description
		}
		c.log.WithFields(logger.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("daemon rejected request")
		return nil, apiErr
	}

	return body, nil
}
