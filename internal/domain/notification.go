package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification event types produced by the ledger.
const (
	EventLoanApproved     = "loan.approved"
	EventLoanRejected     = "loan.rejected"
	EventLoanCompleted    = "loan.completed"
	EventInstallmentPaid  = "installment.paid"
	EventAutopayActivated = "autopay.activated"
)

// Recipient scopes for emitted events.
const (
	ScopeAdmin    = "admin"
	ScopeBorrower = "borrower"
)

// Notification is the persisted record of an emitted event. Delivery is
// the collaborator's concern; the ledger only produces the record.
type Notification struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Type          string     `json:"type" db:"type"`
	LoanID        uuid.UUID  `json:"loan_id" db:"loan_id"`
	InstallmentID *uuid.UUID `json:"installment_id,omitempty" db:"installment_id"`
	Amount        int64      `json:"amount" db:"amount"`
	Scope         string     `json:"scope" db:"scope"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
