package apperrors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrLoanNotFound           = errors.New("loan not found")
	ErrLoanNotPending         = errors.New("loan is not pending approval")
	ErrLoanNotApproved        = errors.New("loan is not approved")
	ErrInstallmentNotFound    = errors.New("installment not found")
	ErrInstallmentAlreadyPaid = errors.New("installment already paid")
	ErrInvalidScheduleParams  = errors.New("invalid schedule parameters")
	ErrInvalidSignature       = errors.New("signature verification failed")
	ErrInvalidAutopayState    = errors.New("autopay state does not allow this transition")
	ErrLoanMissingForLedger   = errors.New("loan missing for existing installment")
	ErrNoUnpaidInstallments   = errors.New("no unpaid installments")
	ErrMixedLoans             = errors.New("installments belong to different loans")
)

// BusinessError carries a stable machine-readable code alongside the
// underlying cause.
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeLoanNotFound           = "LOAN_NOT_FOUND"
	ErrCodeLoanNotPending         = "LOAN_NOT_PENDING"
	ErrCodeInstallmentNotFound    = "INSTALLMENT_NOT_FOUND"
	ErrCodeInstallmentAlreadyPaid = "INSTALLMENT_ALREADY_PAID"
	ErrCodeInvalidScheduleParams  = "INVALID_SCHEDULE_PARAMETERS"
	ErrCodeInvalidSignature       = "INVALID_SIGNATURE"
	ErrCodeInvalidAutopayState    = "INVALID_AUTOPAY_STATE"
	ErrCodeLedgerIntegrity        = "LEDGER_INTEGRITY"
	ErrCodeNoUnpaidInstallments   = "NO_UNPAID_INSTALLMENTS"
	ErrCodeDatabaseError          = "DATABASE_ERROR"
)

func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("loan %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapLoanNotPending(loanID, status string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotPending,
		fmt.Sprintf("loan %s is %s, expected pending", loanID, status),
		ErrLoanNotPending,
	)
}

func WrapInstallmentNotFound(installmentID string) *BusinessError {
	return NewBusinessError(
		ErrCodeInstallmentNotFound,
		fmt.Sprintf("installment %s not found", installmentID),
		ErrInstallmentNotFound,
	)
}

func WrapInstallmentAlreadyPaid(installmentID string) *BusinessError {
	return NewBusinessError(
		ErrCodeInstallmentAlreadyPaid,
		fmt.Sprintf("installment %s is already paid", installmentID),
		ErrInstallmentAlreadyPaid,
	)
}

func WrapInvalidScheduleParams(reason string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidScheduleParams,
		reason,
		ErrInvalidScheduleParams,
	)
}

func WrapInvalidSignature() *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidSignature,
		"payload signature did not match",
		ErrInvalidSignature,
	)
}

func WrapInvalidAutopayState(loanID, from, to string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidAutopayState,
		fmt.Sprintf("loan %s autopay cannot move %s -> %s", loanID, from, to),
		ErrInvalidAutopayState,
	)
}

// WrapLedgerIntegrity marks corruption the ledger must never paper over,
// such as an installment whose loan row is gone.
func WrapLedgerIntegrity(detail string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeLedgerIntegrity,
		detail,
		err,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}
