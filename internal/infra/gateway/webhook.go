package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"estancias/internal/app/policies"
	domainpayment "estancias/internal/domain/payment"
)

// signatureTolerance bounds how stale a webhook timestamp may be before the
// delivery is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// VerifyWebhook checks the HMAC signature header ("t=<unix>,v1=<hex>", HMAC
// SHA-256 over "<t>.<payload>") and parses the event into its domain form.
func (c *Client) VerifyWebhook(payload []byte, signature string) (policies.WebhookEvent, error) {
	ts, candidates, err := parseSignatureHeader(signature)
	if err != nil {
		return policies.WebhookEvent{}, err
	}
	now := c.now()
	age := now.Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return policies.WebhookEvent{}, policies.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	verified := false
	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			verified = true
			break
		}
	}
	if !verified {
		return policies.WebhookEvent{}, policies.ErrInvalidSignature
	}
	return parseEvent(payload)
}

func parseSignatureHeader(signature string) (ts int64, v1 []string, err error) {
	for _, part := range strings.Split(signature, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, policies.ErrInvalidSignature
			}
		case "v1":
			v1 = append(v1, v)
		}
	}
	if ts == 0 || len(v1) == 0 {
		return 0, nil, policies.ErrInvalidSignature
	}
	return ts, v1, nil
}

type rawEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type rawSession struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Customer      string            `json:"customer"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
}

type rawIntent struct {
	ID            string `json:"id"`
	PaymentMethod string `json:"payment_method"`
}

type rawRefund struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
}

type rawCharge struct {
	PaymentIntent string `json:"payment_intent"`
	Refunds       struct {
		Data []rawRefund `json:"data"`
	} `json:"refunds"`
}

func parseEvent(payload []byte) (policies.WebhookEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return policies.WebhookEvent{}, fmt.Errorf("gateway: decode webhook: %w", err)
	}
	ev := policies.WebhookEvent{ID: raw.ID, Kind: policies.WebhookEventKind(raw.Type)}

	switch ev.Kind {
	case policies.EventCheckoutCompleted:
		var s rawSession
		if err := json.Unmarshal(raw.Data.Object, &s); err != nil {
			return policies.WebhookEvent{}, fmt.Errorf("gateway: decode session object: %w", err)
		}
		ev.CheckoutCompleted = &policies.CheckoutCompletedEvent{
			SessionID:       s.ID,
			IntentID:        s.PaymentIntent,
			CustomerID:      s.Customer,
			PaymentMethodID: s.PaymentMethod,
			BookingID:       s.Metadata["booking_id"],
			PaymentID:       s.Metadata["payment_id"],
		}
	case policies.EventChargeFailed:
		var i rawIntent
		if err := json.Unmarshal(raw.Data.Object, &i); err != nil {
			return policies.WebhookEvent{}, fmt.Errorf("gateway: decode intent object: %w", err)
		}
		ev.ChargeFailed = &policies.ChargeFailedEvent{IntentID: i.ID}
	case policies.EventRefundUpdated:
		var r rawRefund
		if err := json.Unmarshal(raw.Data.Object, &r); err != nil {
			return policies.WebhookEvent{}, fmt.Errorf("gateway: decode refund object: %w", err)
		}
		ev.Refunds = []policies.RefundEventObject{refundObject(r)}
	case policies.EventChargeRefunded:
		var ch rawCharge
		if err := json.Unmarshal(raw.Data.Object, &ch); err != nil {
			return policies.WebhookEvent{}, fmt.Errorf("gateway: decode charge object: %w", err)
		}
		for _, r := range ch.Refunds.Data {
			if r.PaymentIntent == "" {
				r.PaymentIntent = ch.PaymentIntent
			}
			ev.Refunds = append(ev.Refunds, refundObject(r))
		}
	}
	return ev, nil
}

func refundObject(r rawRefund) policies.RefundEventObject {
	return policies.RefundEventObject{
		GatewayRefundID: r.ID,
		IntentID:        r.PaymentIntent,
		PaymentID:       r.Metadata["payment_id"],
		Amount:          amountFrom(r.Amount, r.Currency),
		Status:          webhookRefundStatus(r.Status),
	}
}

func webhookRefundStatus(s string) domainpayment.RefundStatus {
	switch s {
	case "succeeded":
		return domainpayment.RefundPaid
	case "failed", "canceled":
		return domainpayment.RefundFailed
	default:
		return domainpayment.RefundPending
	}
}
