package account

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Profile is a platform user together with the USD balance and per-symbol
// crypto wallet balances. Balances are only changed through store-side
// increments, never overwritten.
type Profile struct {
	ID        string                     `json:"id" db:"id"`
	Email     string                     `json:"email" db:"email"`
	FullName  string                     `json:"fullName" db:"full_name"`
	Balance   decimal.Decimal            `json:"balance" db:"balance"`
	Wallets   map[string]decimal.Decimal `json:"wallets" db:"-"`
	CreatedAt time.Time                  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time                  `json:"updatedAt" db:"updated_at"`
}

// WalletBalance returns the balance held for a crypto symbol.
func (p Profile) WalletBalance(symbol string) decimal.Decimal {
	if p.Wallets == nil {
		return decimal.Zero
	}
	return p.Wallets[NormalizeSymbol(symbol)]
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	cp := p
	if p.Wallets != nil {
		cp.Wallets = make(map[string]decimal.Decimal, len(p.Wallets))
		for k, v := range p.Wallets {
			cp.Wallets[k] = v
		}
	}
	return cp
}

// NormalizeSymbol upper-cases and trims a crypto ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
