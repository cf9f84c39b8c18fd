package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/homechain/escrowhub/common"
)

// HTTPClient talks JSON to the settlement gateway. Submissions carry an
// Idempotency-Key header so the gateway can return the original result of
// a retried submission instead of executing it twice.
type HTTPClient struct {
	config     *Config
	httpClient *http.Client
}

func NewHTTPClient(config *Config) *HTTPClient {
	return &HTTPClient{
		config:     config,
		httpClient: &http.Client{},
	}
}

func (c *HTTPClient) CreateEscrow(ctx context.Context, req *CreateEscrowRequest) (*CreateEscrowResponse, error) {
	resp := &CreateEscrowResponse{}
	err := c.submit(ctx, "/escrows", req.IdempotencyKey, req, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) FundEscrow(ctx context.Context, req *FundEscrowRequest) (*TxResponse, error) {
	resp := &TxResponse{}
	err := c.submit(ctx, fmt.Sprintf("/escrows/%s/fund", url.PathEscape(req.EscrowID)), req.IdempotencyKey, req, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) ReleasePayment(ctx context.Context, req *ReleasePaymentRequest) (*TxResponse, error) {
	resp := &TxResponse{}
	err := c.submit(ctx, fmt.Sprintf("/escrows/%s/release", url.PathEscape(req.EscrowID)), req.IdempotencyKey, req, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// SendPayment pays out of the platform operating account when the request
// does not name a source.
func (c *HTTPClient) SendPayment(ctx context.Context, req *SendPaymentRequest) (*TxResponse, error) {
	payload := *req
	if payload.SourceAddress == "" {
		payload.SourceAddress = c.config.PlatformAddress
		payload.SourceSecret = c.config.PlatformAccountSecret
	}
	resp := &TxResponse{}
	err := c.submit(ctx, "/payments", req.IdempotencyKey, &payload, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) GetEscrowStatus(ctx context.Context, escrowID string) (*EscrowStatus, error) {
	resp := &EscrowStatus{}
	err := c.lookup(ctx, fmt.Sprintf("/escrows/%s", url.PathEscape(escrowID)), resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) GetAccountBalance(ctx context.Context, address string) (*AccountBalance, error) {
	resp := &AccountBalance{}
	err := c.lookup(ctx, fmt.Sprintf("/accounts/%s/balance", url.PathEscape(address)), resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) GetTransaction(ctx context.Context, reference string) (*TransactionStatus, error) {
	resp := &TransactionStatus{}
	err := c.lookup(ctx, fmt.Sprintf("/transactions/%s", url.PathEscape(reference)), resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// submit performs a side effecting call exactly once. It never retries:
// an unknown outcome is handed back to the caller for reconciliation.
func (c *HTTPClient) submit(ctx context.Context, endpoint, idempotencyKey string, body, response interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.Request(ctx, http.MethodPost, endpoint, idempotencyKey, payload, false, response)
}

// lookup is read only, so transient failures are retried with backoff.
func (c *HTTPClient) lookup(ctx context.Context, endpoint string, response interface{}) error {
	op := func() error {
		err := c.Request(ctx, http.MethodGet, endpoint, "", nil, true, response)
		if err != nil && !common.IsOutcomeUnknown(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.config.StatusRetries), ctx)
	return backoff.Retry(op, b)
}

func (c *HTTPClient) Request(ctx context.Context, method, endpoint, idempotencyKey string, body []byte, isLookup bool, response interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.URL, "/")+endpoint, reader)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(httpReq, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		switch {
		case resp.StatusCode == http.StatusNotFound && isLookup:
			return fmt.Errorf("%s %s: %w", method, endpoint, common.ErrNotFound)
		case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
			return fmt.Errorf("%s %s returned %d %s: %w", method, endpoint, resp.StatusCode, msg, common.ErrNetworkTimeout)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%s %s returned %d %s: %w", method, endpoint, resp.StatusCode, msg, common.ErrNetworkUnavailable)
		default:
			return fmt.Errorf("%s %s returned %d %s: %w", method, endpoint, resp.StatusCode, msg, common.ErrRemoteRejected)
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		// the request was accepted but the answer got lost
		return fmt.Errorf("decode %s %s response: %v: %w", method, endpoint, err, common.ErrNetworkUnavailable)
	}
	return nil
}

func classifyTransportError(req *http.Request, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, common.ErrNetworkTimeout)
	}
	return fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, common.ErrNetworkUnavailable)
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	payload := struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
