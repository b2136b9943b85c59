// Package gateway wraps the external payment-adaptor workflow runner used by
// the online payment channel.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillRef identifies one bill in the submitted manifest.
type BillRef struct {
	BillID uuid.UUID       `json:"bill_id"`
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

// Submission is the payload handed to the workflow runner when a payroll is
// dispatched for online payment.
type Submission struct {
	UserRef      string          `json:"user_ref"`
	PayrollRef   uuid.UUID       `json:"payroll_ref"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	BillManifest []BillRef       `json:"bill_manifest"`
}

// Runner submits a payroll to an external payment workflow. The call blocks
// until the runner accepts or rejects the submission; it must never be made
// while a database transaction is held.
type Runner interface {
	Run(ctx context.Context, sub Submission) error
}

// Client is the HTTP Runner implementation.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping checks if the remote runner is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// Run submits the payroll manifest to the payment-adaptor workflow.
func (c *Client) Run(ctx context.Context, sub Submission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("gateway: encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/workflows/payment-adaptor/run", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: submit payroll %s: %w", sub.PayrollRef, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway: payroll %s rejected with status %d", sub.PayrollRef, resp.StatusCode)
	}
	return nil
}
