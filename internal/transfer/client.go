package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient talks to the ledger authority over HTTP.
type HTTPClient struct {
	base  string
	token string
	http  *http.Client
}

var _ LedgerClient = (*HTTPClient)(nil)

// NewHTTPClient constructs a ledger client.
func NewHTTPClient(base, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{base: base, token: token, http: &http.Client{Timeout: timeout}}
}

type submitBody struct {
	BatchRef string `json:"batchRef"`
	Message  string `json:"message"`
}

// Submit posts one batch. Outcomes map from the status code: accepted,
// validation-rejected, service-unavailable or unauthorized.
func (c *HTTPClient) Submit(ctx context.Context, batch Batch) (SubmitResponse, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return SubmitResponse{}, fmt.Errorf("transfer: marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/batches", bytes.NewReader(payload))
	if err != nil {
		return SubmitResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return SubmitResponse{}, fmt.Errorf("transfer: submit batch: %w", err)
	}
	defer resp.Body.Close()

	var body submitBody
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
		return SubmitResponse{Outcome: OutcomeAccepted, BatchRef: body.BatchRef}, nil
	case resp.StatusCode == http.StatusBadRequest:
		return SubmitResponse{Outcome: OutcomeValidationRejected, Message: body.Message}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return SubmitResponse{Outcome: OutcomeUnauthorized}, nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		return SubmitResponse{Outcome: OutcomeUnavailable}, nil
	default:
		return SubmitResponse{}, fmt.Errorf("transfer: unexpected status %d", resp.StatusCode)
	}
}

type confirmBody struct {
	Status string   `json:"status"`
	Errors []string `json:"errors"`
}

// CheckBatch polls a previously submitted batch's confirmation status.
func (c *HTTPClient) CheckBatch(ctx context.Context, batchRef string) (ConfirmResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/batches/"+batchRef, nil)
	if err != nil {
		return ConfirmResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return ConfirmResponse{}, fmt.Errorf("transfer: check batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ConfirmResponse{}, fmt.Errorf("transfer: check batch status %d", resp.StatusCode)
	}

	var body confirmBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ConfirmResponse{}, fmt.Errorf("transfer: decode confirmation: %w", err)
	}
	switch body.Status {
	case "DONE":
		return ConfirmResponse{State: ConfirmDone, Errors: body.Errors}, nil
	case "FAILED":
		return ConfirmResponse{State: ConfirmFailed, Errors: body.Errors}, nil
	default:
		return ConfirmResponse{State: ConfirmPending, Errors: body.Errors}, nil
	}
}
