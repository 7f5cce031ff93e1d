package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/notify"
	"github.com/daylend/emi-engine/internal/service"
	"github.com/daylend/emi-engine/pkg/apperrors"
	"github.com/daylend/emi-engine/pkg/response"
)

type LoanHandler struct {
	schedules     *service.ScheduleService
	reconcile     *service.ReconcileService
	notifications *notify.Service
	validator     *validator.Validate
}

func NewLoanHandler(schedules *service.ScheduleService, reconcile *service.ReconcileService, notifications *notify.Service) *LoanHandler {
	return &LoanHandler{
		schedules:     schedules,
		reconcile:     reconcile,
		notifications: notifications,
		validator:     validator.New(),
	}
}

// CreateLoan handles POST /loans
func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	loan, err := h.schedules.CreateLoan(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, loan)
}

// ApproveLoan handles POST /loans/{loanId}/approve
func (h *LoanHandler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	result, err := h.schedules.ApproveLoan(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// RejectLoan handles POST /loans/{loanId}/reject
func (h *LoanHandler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	if err := h.schedules.RejectLoan(r.Context(), loanID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"status": domain.LoanStatusRejected})
}

// GetLoan handles GET /loans/{loanId}
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	loan, err := h.schedules.GetLoan(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, loan)
}

// GetSchedule handles GET /loans/{loanId}/schedule
func (h *LoanHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	schedule, err := h.schedules.GetSchedule(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, schedule)
}

// DeleteLoan handles DELETE /loans/{loanId}
func (h *LoanHandler) DeleteLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	if err := h.schedules.DeleteLoan(r.Context(), loanID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"status": "deleted"})
}

// ListBorrowerLoans handles GET /borrowers/{borrowerId}/loans
func (h *LoanHandler) ListBorrowerLoans(w http.ResponseWriter, r *http.Request) {
	borrowerID, ok := pathUUID(w, r, "borrowerId")
	if !ok {
		return
	}

	loans, err := h.schedules.ListBorrowerLoans(r.Context(), borrowerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, loans)
}

// ListNotifications handles GET /loans/{loanId}/notifications
func (h *LoanHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	records, err := h.notifications.History(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, records)
}

// ReconcileLoan handles POST /loans/{loanId}/reconcile
func (h *LoanHandler) ReconcileLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathUUID(w, r, "loanId")
	if !ok {
		return
	}

	result, err := h.reconcile.ReconcileLoan(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// pathUUID extracts and parses a UUID path variable, writing a 400 on
// failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(w, name+" is not a valid uuid", err)
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrLoanNotFound),
		errors.Is(err, apperrors.ErrInstallmentNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, apperrors.ErrInstallmentAlreadyPaid),
		errors.Is(err, apperrors.ErrLoanNotPending),
		errors.Is(err, apperrors.ErrInvalidAutopayState),
		errors.Is(err, apperrors.ErrLoanNotApproved):
		response.Conflict(w, err.Error(), err)
	case errors.Is(err, apperrors.ErrInvalidScheduleParams):
		response.BadRequest(w, err.Error(), err)
	case errors.Is(err, apperrors.ErrInvalidSignature):
		response.Unauthorized(w, err.Error())
	default:
		response.InternalServerError(w, "operation failed", err)
	}
}
