package domain

import "time"

// TransactionKind enumerates the ledger entry types.
type TransactionKind string

const (
	TransactionPurchase            TransactionKind = "PURCHASE"
	TransactionGenerationDebit     TransactionKind = "GENERATION_DEBIT"
	TransactionRefund              TransactionKind = "REFUND"
	TransactionWorkspaceAllocation TransactionKind = "WORKSPACE_ALLOCATION"
)

// LowBalanceThreshold is the balance below which a post-debit
// low-credit notification fires.
const LowBalanceThreshold = 50

// CreditTransaction is one immutable entry in the append-only ledger
// log. Amount is signed: debits are negative, credits positive.
type CreditTransaction struct {
	ID                string
	UserID            string
	Kind              TransactionKind
	Amount            int
	BalanceAfter      int
	Description       string
	RelatedJobID      string
	RelatedPaymentRef string
	AmountCentsUSD    int64
	CreatedAt         time.Time
}
