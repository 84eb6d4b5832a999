package http

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

	"github.com/ZutrixPog/capsync/downstream"
)

var _ downstream.Commerce = (*CommerceClient)(nil)

const defaultTimeout = 10 * time.Second

// CommerceClient talks JSON to the commerce subsystem. Every request carries
// an Idempotency-Key derived from the resource and account, so repeated
// deliveries of the same work item create the resource once.
type CommerceClient struct {
	baseURL string
	client  *http.Client
}

func NewCommerceClient(baseURL string, client *http.Client) *CommerceClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &CommerceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type provisionRequest struct {
	AccountID   string `json:"accountId"`
	AccountType string `json:"accountType"`
}

func (c *CommerceClient) Provision(ctx context.Context, resource downstream.Resource, accountID string, accountType string) error {
	path, err := resourcePath(resource)
	if err != nil {
		return err
	}

	body, err := json.Marshal(provisionRequest{AccountID: accountID, AccountType: accountType})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/v1/accounts/%s/%s", c.baseURL, url.PathEscape(accountID), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", string(resource)+":"+accountID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", downstream.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
		// 409 means the resource already exists for this account.
		return nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", downstream.ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", downstream.ErrRejected, resp.StatusCode)
	}
}

func resourcePath(resource downstream.Resource) (string, error) {
	switch resource {
	case downstream.BillingAccount, downstream.BillingProfile, downstream.PaymentProfile,
		downstream.PayoutProfile, downstream.EarningsProfile:
		return string(resource), nil
	}
	return "", downstream.ErrUnknownResource
}
