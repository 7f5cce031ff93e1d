// Package gateway holds the payment-gateway contract the ledger depends
// on: canonical-string HMAC verification and the webhook payload shapes.
// Order and subscription management live entirely on the gateway side.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Webhook event names the subscription webhook dispatches on.
const (
	EventSubscriptionAuthenticated = "subscription.authenticated"
	EventSubscriptionCharged       = "subscription.charged"
)

// sign computes the hex HMAC-SHA256 of the canonical string.
func sign(canonical, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPaymentSignature checks a single-payment callback signature
// computed over "orderID|paymentID". The comparison is constant-time.
func VerifyPaymentSignature(orderID, paymentID, signature, secret string) bool {
	expected := sign(orderID+"|"+paymentID, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifySubscriptionSignature checks a recurring-billing callback
// signature computed over "paymentID|subscriptionID".
func VerifySubscriptionSignature(paymentID, subscriptionID, signature, secret string) bool {
	expected := sign(paymentID+"|"+subscriptionID, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PaymentWebhook is the verified single-payment callback payload.
type PaymentWebhook struct {
	OrderID       string `json:"order_id" validate:"required"`
	PaymentID     string `json:"payment_id" validate:"required"`
	Signature     string `json:"signature" validate:"required"`
	InstallmentID string `json:"installment_id" validate:"required,uuid"`
}

// SubscriptionWebhook is the recurring-billing callback payload. One
// charged event settles up to the configured number of oldest unpaid
// installments; the mapping is fixed policy, not derived from the charged
// amount.
type SubscriptionWebhook struct {
	Event          string `json:"event" validate:"required"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
	PaymentID      string `json:"payment_id" validate:"required"`
	Signature      string `json:"signature" validate:"required"`
	LoanID         string `json:"loan_id" validate:"required,uuid"`
}
