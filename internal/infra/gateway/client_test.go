package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estancias/internal/app/policies"
	domainpayment "estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Options{
		BaseURL:       srv.URL,
		APIKey:        "sk_test_1",
		WebhookSecret: "whsec_test",
	})
	c.now = func() time.Time { return testNow }
	return c
}

func TestCreateOffSessionChargeSucceeded(t *testing.T) {
	var gotAuth, gotIdem string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "30000", r.PostForm.Get("amount"))
		assert.Equal(t, "mxn", r.PostForm.Get("currency"))
		assert.Equal(t, "true", r.PostForm.Get("off_session"))
		assert.Equal(t, "bk-1", r.PostForm.Get("metadata[booking_id]"))
		fmt.Fprint(w, `{"id":"pi_1","status":"succeeded"}`)
	})

	charge, err := c.CreateOffSessionCharge(context.Background(), policies.OffSessionChargeParams{
		Amount:          money.MXN(30_000),
		CustomerID:      "cus_1",
		PaymentMethodID: "pm_1",
		BookingID:       "bk-1",
		IdempotencyKey:  "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", charge.IntentID)
	assert.Equal(t, "Bearer sk_test_1", gotAuth)
	assert.Equal(t, "idem-1", gotIdem)
}

func TestCreateOffSessionChargeDeclined(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"code":"card_declined","decline_code":"insufficient_funds","payment_intent":{"id":"pi_2","status":"requires_payment_method"}}}`)
	})

	_, err := c.CreateOffSessionCharge(context.Background(), policies.OffSessionChargeParams{Amount: money.MXN(30_000)})
	var declined *policies.DeclinedError
	require.True(t, errors.As(err, &declined))
	assert.Equal(t, "pi_2", declined.IntentID)
	assert.Equal(t, "insufficient_funds", declined.Code)
}

func TestCreateOffSessionChargeRequiresAction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"code":"authentication_required","payment_intent":{"id":"pi_3"}}}`)
	})

	_, err := c.CreateOffSessionCharge(context.Background(), policies.OffSessionChargeParams{Amount: money.MXN(30_000)})
	var action *policies.ActionRequiredError
	require.True(t, errors.As(err, &action))
	assert.Equal(t, "pi_3", action.IntentID)
}

func TestCreateOffSessionChargeServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.CreateOffSessionCharge(context.Background(), policies.OffSessionChargeParams{Amount: money.MXN(30_000)})
	require.Error(t, err)
	var declined *policies.DeclinedError
	var action *policies.ActionRequiredError
	assert.False(t, errors.As(err, &declined))
	assert.False(t, errors.As(err, &action))
}

func TestCreateCheckoutSession(t *testing.T) {
	expires := testNow.Add(24 * time.Hour)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "off_session", r.PostForm.Get("payment_intent_data[setup_future_usage]"))
		assert.Equal(t, "chg-1", r.PostForm.Get("metadata[change_log_id]"))
		fmt.Fprintf(w, `{"id":"cs_1","url":"https://pay.example.com/cs_1","payment_intent":"pi_1","expires_at":%d}`, expires.Unix())
	})

	session, err := c.CreateCheckoutSession(context.Background(), policies.CheckoutSessionParams{
		Amount:      money.MXN(69_600),
		Name:        "Deposit top-up",
		SaveMethod:  true,
		ChangeLogID: "chg-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "https://pay.example.com/cs_1", session.URL)
	assert.Equal(t, "pi_1", session.IntentID)
	assert.Equal(t, expires.UTC(), session.ExpiresAt)
}

func TestExpireSessionToleratesGoneSessions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, c.ExpireSession(context.Background(), "cs_gone"))
}

func TestCreateRefund(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		assert.Equal(t, "pi_1", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "27400", r.PostForm.Get("amount"))
		fmt.Fprint(w, `{"id":"re_1","status":"pending"}`)
	})

	res, err := c.CreateRefund(context.Background(), policies.RefundParams{
		IntentID: "pi_1",
		Amount:   money.MXN(27_400),
		Reason:   "requested_by_customer",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.RefundID)
	assert.Equal(t, domainpayment.RefundPending, res.Status)
}

func signPayload(secret string, ts time.Time, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookCheckoutCompleted(t *testing.T) {
	c := newTestClient(t, nil)
	payload := []byte(`{
		"id":"evt_1","type":"checkout.session.completed",
		"data":{"object":{
			"id":"cs_1","payment_intent":"pi_1","customer":"cus_1",
			"payment_method":"pm_1",
			"metadata":{"booking_id":"bk-1","payment_id":"pay-1"}
		}}
	}`)

	ev, err := c.VerifyWebhook(payload, signPayload("whsec_test", testNow, payload))
	require.NoError(t, err)
	assert.Equal(t, policies.EventCheckoutCompleted, ev.Kind)
	require.NotNil(t, ev.CheckoutCompleted)
	assert.Equal(t, "cs_1", ev.CheckoutCompleted.SessionID)
	assert.Equal(t, "pi_1", ev.CheckoutCompleted.IntentID)
	assert.Equal(t, "bk-1", ev.CheckoutCompleted.BookingID)
	assert.Equal(t, "pay-1", ev.CheckoutCompleted.PaymentID)
}

func TestVerifyWebhookChargeRefunded(t *testing.T) {
	c := newTestClient(t, nil)
	payload := []byte(`{
		"id":"evt_2","type":"charge.refunded",
		"data":{"object":{
			"payment_intent":"pi_1",
			"refunds":{"data":[
				{"id":"re_1","amount":27400,"currency":"mxn","status":"succeeded","metadata":{"payment_id":"pay-1"}}
			]}
		}}
	}`)

	ev, err := c.VerifyWebhook(payload, signPayload("whsec_test", testNow, payload))
	require.NoError(t, err)
	assert.Equal(t, policies.EventChargeRefunded, ev.Kind)
	require.Len(t, ev.Refunds, 1)
	assert.Equal(t, "re_1", ev.Refunds[0].GatewayRefundID)
	assert.Equal(t, "pi_1", ev.Refunds[0].IntentID, "intent inherited from the charge")
	assert.Equal(t, int64(27_400), ev.Refunds[0].Amount.Cents)
	assert.Equal(t, domainpayment.RefundPaid, ev.Refunds[0].Status)
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	c := newTestClient(t, nil)
	payload := []byte(`{"id":"evt_3","type":"checkout.session.completed","data":{"object":{}}}`)

	_, err := c.VerifyWebhook(payload, signPayload("whsec_wrong", testNow, payload))
	assert.ErrorIs(t, err, policies.ErrInvalidSignature)

	_, err = c.VerifyWebhook(payload, "garbage")
	assert.ErrorIs(t, err, policies.ErrInvalidSignature)
}

func TestVerifyWebhookRejectsStaleTimestamp(t *testing.T) {
	c := newTestClient(t, nil)
	payload := []byte(`{"id":"evt_4","type":"refund.updated","data":{"object":{"id":"re_1"}}}`)

	_, err := c.VerifyWebhook(payload, signPayload("whsec_test", testNow.Add(-time.Hour), payload))
	assert.ErrorIs(t, err, policies.ErrInvalidSignature)
}

func TestVerifyWebhookTamperedPayload(t *testing.T) {
	c := newTestClient(t, nil)
	payload := []byte(`{"id":"evt_5","type":"refund.updated","data":{"object":{"id":"re_1","amount":100}}}`)
	sig := signPayload("whsec_test", testNow, payload)
	tampered := []byte(`{"id":"evt_5","type":"refund.updated","data":{"object":{"id":"re_1","amount":99900}}}`)

	_, err := c.VerifyWebhook(tampered, sig)
	assert.ErrorIs(t, err, policies.ErrInvalidSignature)
}
