package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server/internal/domain"
)

func seedSession(s *testServer, ref string, paid bool) {
	s.processor.mu.Lock()
	defer s.processor.mu.Unlock()
	s.processor.sessions[ref] = &domain.PaymentSession{
		Ref:              ref,
		Paid:             paid,
		AmountTotalCents: 500,
		UserID:           "user-1",
		Credits:          50,
	}
}

func TestPaymentConfirm(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{})
	seedSession(s, "cs_123", true)

	rec := s.do(t, http.MethodPost, "/v1/payments/confirm", "user-1", `{"session_id":"cs_123"}`)
	requireStatus(t, rec, http.StatusOK)

	var resp struct {
		Applied bool `json:"applied"`
		Credits int  `json:"credits"`
		Balance int  `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Applied)
	assert.Equal(t, 50, resp.Credits)
	assert.Equal(t, 150, resp.Balance)
}

func TestPaymentConfirmRepeatDoesNotDoubleCredit(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{})
	seedSession(s, "cs_123", true)

	rec := s.do(t, http.MethodPost, "/v1/payments/confirm", "user-1", `{"session_id":"cs_123"}`)
	requireStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodPost, "/v1/payments/confirm", "user-1", `{"session_id":"cs_123"}`)
	requireStatus(t, rec, http.StatusOK)
	var resp struct {
		Applied bool `json:"applied"`
		Balance int  `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Applied)
	assert.Equal(t, 150, resp.Balance)

	balance, err := s.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 150, balance)
}

func TestPaymentConfirmUnsettled(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{})
	seedSession(s, "cs_pending", false)

	rec := s.do(t, http.MethodPost, "/v1/payments/confirm", "user-1", `{"session_id":"cs_pending"}`)
	requireStatus(t, rec, http.StatusBadRequest)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "payment_not_settled", resp.Error)
}

func TestPaymentConfirmUnknownSession(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{})
	rec := s.do(t, http.MethodPost, "/v1/payments/confirm", "user-1", `{"session_id":"cs_missing"}`)
	requireStatus(t, rec, http.StatusNotFound)
}

func TestPaymentWebhookAppliesCredit(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{})
	seedSession(s, "cs_123", true)

	body := `{"type":"checkout.session.completed","data":{"object":{"id":"cs_123"}}}`
	rec := s.do(t, http.MethodPost, "/v1/payments/webhook", "", body)
	requireStatus(t, rec, http.StatusOK)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	balance, err := s.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 150, balance)
}

func TestPaymentWebhookRedelivery(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{})
	seedSession(s, "cs_123", true)

	body := `{"type":"checkout.session.completed","data":{"object":{"id":"cs_123"}}}`
	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/v1/payments/webhook", "", body)
		requireStatus(t, rec, http.StatusOK)
	}

	balance, err := s.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 150, balance, "redeliveries must not credit twice")
}

func TestPaymentWebhookIgnoresOtherEvents(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{})

	body := `{"type":"invoice.paid","data":{"object":{"id":"in_1"}}}`
	rec := s.do(t, http.MethodPost, "/v1/payments/webhook", "", body)
	requireStatus(t, rec, http.StatusOK)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestPaymentWebhookFailureSignalsRetry(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{})
	// Session unknown at the processor; the delivery must not be acked.
	body := `{"type":"checkout.session.completed","data":{"object":{"id":"cs_unknown"}}}`
	rec := s.do(t, http.MethodPost, "/v1/payments/webhook", "", body)
	requireStatus(t, rec, http.StatusInternalServerError)
}
