package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testBatch() Batch {
	return Batch{DecisionID: 100, OrderID: 1, CaseID: "2022-001", PayerID: "P-1", PayeeID: "R-1"}
}

func TestSubmitAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/batches", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var batch Batch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		require.EqualValues(t, 100, batch.DecisionID)

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"batchRef": "batch-42"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret", time.Second)
	resp, err := client.Submit(context.Background(), testBatch())
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, resp.Outcome)
	require.Equal(t, "batch-42", resp.BatchRef)
}

func TestSubmitValidationRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "period overlaps"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret", time.Second)
	resp, err := client.Submit(context.Background(), testBatch())
	require.NoError(t, err)
	require.Equal(t, OutcomeValidationRejected, resp.Outcome)
	require.Equal(t, "period overlaps", resp.Message)
}

func TestSubmitUnavailableAndUnauthorized(t *testing.T) {
	for status, want := range map[int]Outcome{
		http.StatusServiceUnavailable: OutcomeUnavailable,
		http.StatusUnauthorized:       OutcomeUnauthorized,
		http.StatusForbidden:          OutcomeUnauthorized,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		client := NewHTTPClient(srv.URL, "secret", time.Second)
		resp, err := client.Submit(context.Background(), testBatch())
		srv.Close()
		require.NoError(t, err)
		require.Equal(t, want, resp.Outcome)
	}
}

func TestSubmitUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret", time.Second)
	_, err := client.Submit(context.Background(), testBatch())
	require.Error(t, err)
}

func TestCheckBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/batches/batch-42", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "FAILED", "errors": []string{"unknown case"}})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret", time.Second)
	resp, err := client.CheckBatch(context.Background(), "batch-42")
	require.NoError(t, err)
	require.Equal(t, ConfirmFailed, resp.State)
	require.Equal(t, []string{"unknown case"}, resp.Errors)
}

func TestCheckBatchUnknownStatusIsPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "QUEUED"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret", time.Second)
	resp, err := client.CheckBatch(context.Background(), "batch-42")
	require.NoError(t, err)
	require.Equal(t, ConfirmPending, resp.State)
}
