package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/gateway"
	"github.com/daylend/emi-engine/internal/service"
	"github.com/daylend/emi-engine/pkg/response"
)

type PaymentHandler struct {
	payments  *service.PaymentService
	autopay   *service.AutopayService
	validator *validator.Validate
}

func NewPaymentHandler(payments *service.PaymentService, autopay *service.AutopayService) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		autopay:   autopay,
		validator: validator.New(),
	}
}

// SettleInstallment handles POST /installments/{installmentId}/settle,
// the admin override path. Already-paid is a visible conflict here.
func (h *PaymentHandler) SettleInstallment(w http.ResponseWriter, r *http.Request) {
	installmentID, ok := pathUUID(w, r, "installmentId")
	if !ok {
		return
	}

	var req domain.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	result, err := h.payments.SettleInstallments(r.Context(), []uuid.UUID{installmentID}, req.PaymentRef)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// SimulateSettlement handles POST /installments/{installmentId}/simulate,
// the testing bypass. Same settlement path with a synthetic reference.
func (h *PaymentHandler) SimulateSettlement(w http.ResponseWriter, r *http.Request) {
	installmentID, ok := pathUUID(w, r, "installmentId")
	if !ok {
		return
	}

	result, err := h.payments.SettleSimulated(r.Context(), installmentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// PaymentWebhook handles POST /webhooks/payment. Signature mismatch is a
// hard rejection; re-delivery of a settled payment is a no-op success so
// the gateway stops retrying.
func (h *PaymentHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var payload gateway.PaymentWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		response.BadRequest(w, "invalid webhook payload", err)
		return
	}
	if err := h.validator.Struct(&payload); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	result, err := h.payments.SettleVerified(r.Context(), &payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// SubscriptionWebhook handles POST /webhooks/subscription, dispatching on
// the gateway event: an authenticated mandate activates autopay, a
// successful weekly charge settles the oldest unpaid installments.
func (h *PaymentHandler) SubscriptionWebhook(w http.ResponseWriter, r *http.Request) {
	var payload gateway.SubscriptionWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		response.BadRequest(w, "invalid webhook payload", err)
		return
	}
	if err := h.validator.Struct(&payload); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	if !gateway.VerifySubscriptionSignature(payload.PaymentID, payload.SubscriptionID, payload.Signature, h.payments.WebhookSecret()) {
		response.Unauthorized(w, "signature verification failed")
		return
	}

	loanID, err := uuid.Parse(payload.LoanID)
	if err != nil {
		response.BadRequest(w, "loan_id is not a valid uuid", err)
		return
	}

	switch payload.Event {
	case gateway.EventSubscriptionAuthenticated:
		if err := h.autopay.ActivateAutopay(r.Context(), loanID); err != nil {
			writeServiceError(w, err)
			return
		}
		response.Success(w, map[string]string{"status": "autopay activated"})

	case gateway.EventSubscriptionCharged:
		result, err := h.payments.SettleBatch(r.Context(), loanID, payload.PaymentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.Success(w, result)

	default:
		response.BadRequest(w, "unsupported webhook event", nil)
	}
}

// RequestAutopay handles POST /loans/{loanId}/autopay
func (h *PaymentHandler) RequestAutopay(w http.ResponseWriter, r *http.Request) {
	h.autopayTransition(w, r, h.autopay.RequestAutopay)
}

// PauseAutopay handles POST /loans/{loanId}/autopay/pause
func (h *PaymentHandler) PauseAutopay(w http.ResponseWriter, r *http.Request) {
	h.autopayTransition(w, r, h.autopay.PauseAutopay)
}

// CancelAutopay handles POST /loans/{loanId}/autopay/cancel
func (h *PaymentHandler) CancelAutopay(w http.ResponseWriter, r *http.Request) {
	h.autopayTransition(w, r, h.autopay.CancelAutopay)
}

func (h *PaymentHandler) autopayTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) error) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	if err := fn(r.Context(), loanID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"loan_id": loanID.String()})
}
