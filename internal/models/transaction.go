package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TransactionTypePurchase = "purchase"
	TransactionTypeUsage    = "usage"
	TransactionTypeClaim    = "claim"
	TransactionTypeBonus    = "bonus"
	TransactionTypeReferral = "referral"
	TransactionTypeStarter  = "starter"
	TransactionTypeRefund   = "refund"
)

// Outcome classes the submission layer reports for a single card
const (
	OutcomeApproved = "approved"
	OutcomeLive     = "live"
	OutcomeDead     = "dead"
	OutcomeDeclined = "declined"
	OutcomeError    = "error"
	OutcomeCaptcha  = "captcha"
)

// Append-only ledger record. Amount is signed: positive credits, negative debits.
// BalanceAfter snapshots the account balance right after the mutation applied.
type Transaction struct {
	ID        uuid.UUID
	CreatedAt time.Time
	AccountID uuid.UUID

	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Type         string

	IdempotencyKey *string // nil if caller did not pass one
	Reference      *string
	Description    *string

	// Pricing snapshot for debits, so audits can reconstruct the charged amount
	GatewayID     *string
	PriceApproved *decimal.Decimal
	PriceLive     *decimal.Decimal
}
