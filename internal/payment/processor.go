package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spec-kit/backoffice/internal/domain"
	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

// IdempotencyHeader carries the per-dispatch deduplication key.
const IdempotencyHeader = "Idempotency-Key"

// maxResponseBytes caps how much of a processor response is read.
const maxResponseBytes = 1 << 20

// DefaultCurrency is used for single payments.
const DefaultCurrency = "EUR"

// Transfer is one instruction inside a bulk payment request.
type Transfer struct {
	Account string `json:"iban"`
	Amount  int64  `json:"amount"`
}

// BulkPaymentRequest is sent to the processor. Targets carry plaintext
// accounts; the value must not be logged.
type BulkPaymentRequest struct {
	CustomerID     string     `json:"-"`
	IdempotencyKey string     `json:"-"`
	SourceToken    string     `json:"source_token"`
	Targets        []Transfer `json:"targets"`
}

// SinglePaymentRequest pays one destination now or at ScheduleAt.
// DestinationAccount is plaintext and must not be logged.
type SinglePaymentRequest struct {
	CustomerID         string `json:"-"`
	IdempotencyKey     string `json:"-"`
	SourceToken        string `json:"source"`
	DestinationAccount string `json:"destination_iban"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	ScheduleAt         string `json:"schedule_at,omitempty"`
}

// ProcessorResponse is the processor's answer to a payment request.
type ProcessorResponse struct {
	Status        domain.PaymentStatus `json:"status"`
	TransactionID string               `json:"transaction_id"`
}

// Card is raw card data submitted for tokenization. It is never stored.
type Card struct {
	PAN    string `json:"pan"`
	Expiry string `json:"expiry"`
	Holder string `json:"holder"`
}

// CardAssociation is the processor token returned for a card.
type CardAssociation struct {
	CustomerID string `json:"customer_id"`
	Token      string `json:"token"`
	Status     string `json:"status"`
}

// Processor is the external payment processor.
type Processor interface {
	SubmitBulkPayment(ctx context.Context, req BulkPaymentRequest) (*ProcessorResponse, error)
	PayNow(ctx context.Context, req SinglePaymentRequest) (*ProcessorResponse, error)
	SchedulePayment(ctx context.Context, req SinglePaymentRequest) (*ProcessorResponse, error)
	AssociateCard(ctx context.Context, customerID string, card Card) (*CardAssociation, error)
}

// FastPayClient talks to the FastPay HTTP API.
type FastPayClient struct {
	baseURL  string
	apiToken string
	http     *http.Client
}

// NewFastPayClient builds a client. timeout bounds every call in addition to
// any deadline on the caller's context.
func NewFastPayClient(baseURL, apiToken string, timeout time.Duration) (*FastPayClient, error) {
	if strings.TrimSpace(apiToken) == "" {
		return nil, fmt.Errorf("%w: FASTPAY_API_TOKEN is not configured", apperrors.ErrConfiguration)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid FASTPAY_BASE_URL: %v", apperrors.ErrConfiguration, err)
	}
	return &FastPayClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: timeout,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// SubmitBulkPayment posts a bulk payment with the request's idempotency key.
func (c *FastPayClient) SubmitBulkPayment(ctx context.Context, req BulkPaymentRequest) (*ProcessorResponse, error) {
	var resp ProcessorResponse
	path := "/process/multiple-payments/" + url.PathEscape(req.CustomerID)
	if err := c.post(ctx, path, req.IdempotencyKey, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PayNow posts one immediate payment.
func (c *FastPayClient) PayNow(ctx context.Context, req SinglePaymentRequest) (*ProcessorResponse, error) {
	var resp ProcessorResponse
	if err := c.post(ctx, "/v1/payments", req.IdempotencyKey, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SchedulePayment posts one payment for execution at req.ScheduleAt.
func (c *FastPayClient) SchedulePayment(ctx context.Context, req SinglePaymentRequest) (*ProcessorResponse, error) {
	if req.ScheduleAt == "" {
		return nil, fmt.Errorf("%w: scheduled payment without schedule_at", ErrInvalidBatch)
	}
	var resp ProcessorResponse
	if err := c.post(ctx, "/v1/payments/scheduled", req.IdempotencyKey, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AssociateCard tokenizes card data for the customer.
func (c *FastPayClient) AssociateCard(ctx context.Context, customerID string, card Card) (*CardAssociation, error) {
	var resp CardAssociation
	if err := c.post(ctx, "/associate/card/"+url.PathEscape(customerID), "", card, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FastPayClient) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode fastpay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build fastpay request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The error carries only the URL, never the request body.
		return fmt.Errorf("%w: fastpay %s: %v", apperrors.ErrExternalService, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read fastpay response: %v", apperrors.ErrExternalService, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: fastpay %s returned %d", apperrors.ErrExternalService, path, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode fastpay response: %v", apperrors.ErrExternalService, err)
	}
	return nil
}
