// Package transaction models user deposits and withdrawals.
package transaction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type of a crypto transaction.
type Type string

const (
	TypeDeposit    Type = "deposit"
	TypeWithdrawal Type = "withdrawal"
)

// Status of a crypto transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// Transaction is a USD-denominated deposit or withdrawal settled in CryptoType.
// CryptoAmount and PriceUSD are recorded when the transaction is approved.
type Transaction struct {
	ID            string           `json:"id" db:"id"`
	UserID        string           `json:"userId" db:"user_id"`
	Type          Type             `json:"type" db:"type"`
	CryptoType    string           `json:"cryptoType" db:"crypto_type"`
	Amount        decimal.Decimal  `json:"amount" db:"amount"`
	CryptoAmount  *decimal.Decimal `json:"cryptoAmount,omitempty" db:"crypto_amount"`
	PriceUSD      *decimal.Decimal `json:"priceUsd,omitempty" db:"price_usd"`
	Status        Status           `json:"status" db:"status"`
	Reference     string           `json:"reference" db:"reference"`
	WalletAddress string           `json:"walletAddress" db:"wallet_address"`
	AdminNotes    string           `json:"adminNotes,omitempty" db:"admin_notes"`
	ProcessedAt   *time.Time       `json:"processedAt,omitempty" db:"processed_at"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" db:"updated_at"`
}

// ReferencePrefix returns DEP or WDR.
func (t Type) ReferencePrefix() string {
	if t == TypeWithdrawal {
		return "WDR"
	}
	return "DEP"
}

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	return t == TypeDeposit || t == TypeWithdrawal
}

// Settlement is the conditional pending -> completed/rejected update.
type Settlement struct {
	TransactionID string
	Status        Status
	CryptoAmount  *decimal.Decimal
	PriceUSD      *decimal.Decimal
	AdminNotes    string
	ProcessedAt   time.Time
}

// Filter narrows transaction listings.
type Filter struct {
	UserID string
	Type   Type
	Status Status
	Limit  int
	Offset int
}
