/*
webhook.go - Signed payment provider callback

PURPOSE:
  The provider (or the relay in front of it) posts payment outcomes
  here, at least once per outcome. The body is authenticated with an
  HMAC-SHA256 signature over the raw payload, carried in
  X-Webhook-Signature as lowercase hex. An unverifiable request is
  rejected before any state can change; a verified one is applied
  through the idempotent payment handlers, so redeliveries are safe.
*/
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
)

const signatureHeader = "X-Webhook-Signature"

// PaymentWebhook applies a provider outcome.
// POST /api/webhooks/payment
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", err)
		return
	}

	if h.WebhookSecret != "" {
		if !verifySignature(h.WebhookSecret, body, r.Header.Get(signatureHeader)) {
			log.Printf("[Webhook] rejected payment event: bad signature")
			writeError(w, http.StatusUnauthorized, "invalid signature", nil)
			return
		}
	}

	var event PaymentEventRequest
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if err := h.validate.Struct(&event); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	switch event.Status {
	case "succeeded":
		err = h.Payments.HandleSuccess(r.Context(), event.SessionID, event.TransactionID)
	case "failed":
		err = h.Payments.HandleFailure(r.Context(), event.SessionID, event.Message)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// 200 acknowledges delivery; the provider stops retrying.
	w.WriteHeader(http.StatusOK)
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayload computes the signature a caller must attach. Exported for
// tests and internal relays.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
