package domain

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is one currency held by an account. Locked funds back open
// orders (cash) or margin requirements; they stay part of Total.
type Balance struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Locked   decimal.Decimal `json:"locked"`
}

// Free returns the spendable balance (total - locked).
func (b *Balance) Free() decimal.Decimal {
	return b.Total.Sub(b.Locked)
}

// Credit adds funds to the balance.
func (b *Balance) Credit(amount decimal.Decimal) {
	if amount.IsNegative() {
		panic(fmt.Sprintf("BALANCE_CREDIT_NEGATIVE: %s %s", b.Currency, amount))
	}
	b.Total = b.Total.Add(amount)
}

// Debit removes funds from the balance. Panics if insufficient.
func (b *Balance) Debit(amount decimal.Decimal) {
	if amount.GreaterThan(b.Free()) {
		panic(fmt.Sprintf("BALANCE_INSUFFICIENT: %s need %s, available %s",
			b.Currency, amount, b.Free()))
	}
	b.Total = b.Total.Sub(amount)
}

// Lock reserves funds for an open order or margin requirement.
func (b *Balance) Lock(amount decimal.Decimal) {
	if amount.GreaterThan(b.Free()) {
		panic(fmt.Sprintf("BALANCE_LOCK_INSUFFICIENT: %s need %s, available %s",
			b.Currency, amount, b.Free()))
	}
	b.Locked = b.Locked.Add(amount)
}

// Unlock releases reserved funds.
func (b *Balance) Unlock(amount decimal.Decimal) {
	if amount.GreaterThan(b.Locked) {
		panic(fmt.Sprintf("BALANCE_UNLOCK_EXCEEDS_LOCKED: %s release %s, locked %s",
			b.Currency, amount, b.Locked))
	}
	b.Locked = b.Locked.Sub(amount)
}

// VerifyInvariant checks that the balance satisfies its invariants.
// Call this after any state change to ensure data integrity.
func (b *Balance) VerifyInvariant() {
	if b.Total.IsNegative() {
		panic(fmt.Sprintf("BALANCE_INVARIANT_NEGATIVE_TOTAL: %s = %s", b.Currency, b.Total))
	}
	if b.Locked.IsNegative() {
		panic(fmt.Sprintf("BALANCE_INVARIANT_NEGATIVE_LOCKED: %s = %s", b.Currency, b.Locked))
	}
	if b.Locked.GreaterThan(b.Total) {
		panic(fmt.Sprintf("BALANCE_INVARIANT_LOCKED_EXCEEDS_TOTAL: %s locked=%s total=%s",
			b.Currency, b.Locked, b.Total))
	}
}

// Account holds the balances of one venue account. Single-threaded by
// design: the owning venue or engine serializes all access.
type Account struct {
	ID       string
	Type     AccountType
	balances map[string]*Balance
}

// NewAccount creates an account with the given starting balances.
func NewAccount(id string, accountType AccountType, initial []AccountBalance) *Account {
	a := &Account{
		ID:       id,
		Type:     accountType,
		balances: make(map[string]*Balance),
	}
	for _, b := range initial {
		a.balances[b.Currency] = &Balance{Currency: b.Currency, Total: b.Total, Locked: b.Locked}
	}
	return a
}

// Balance returns the balance for a currency, creating it if absent.
func (a *Account) Balance(currency string) *Balance {
	b, ok := a.balances[currency]
	if !ok {
		b = &Balance{Currency: currency}
		a.balances[currency] = b
	}
	return b
}

// BalanceOrNil returns the balance for a currency without creating it.
func (a *Account) BalanceOrNil(currency string) *Balance {
	return a.balances[currency]
}

// CanAfford reports whether the free balance covers the given amount.
func (a *Account) CanAfford(currency string, amount decimal.Decimal) bool {
	b, ok := a.balances[currency]
	if !ok {
		return false
	}
	return b.Free().GreaterThanOrEqual(amount)
}

// VerifyAll checks invariants on all balances.
func (a *Account) VerifyAll() {
	for _, b := range a.balances {
		b.VerifyInvariant()
	}
}

// TotalEquity values the whole account in the quote currency using the
// supplied prices (currency -> price in quote). The quote currency itself
// is valued at 1. Currencies with no price are skipped.
func (a *Account) TotalEquity(quoteCurrency string, prices map[string]decimal.Decimal) decimal.Decimal {
	equity := decimal.Zero
	for cur, b := range a.balances {
		if cur == quoteCurrency {
			equity = equity.Add(b.Total)
			continue
		}
		price, ok := prices[cur]
		if !ok {
			continue
		}
		equity = equity.Add(b.Total.Mul(price))
	}
	return equity
}

// State builds a balance snapshot event, balances sorted by currency for
// deterministic output.
func (a *Account) State(tsNs int64) AccountState {
	out := make([]AccountBalance, 0, len(a.balances))
	for _, b := range a.balances {
		out = append(out, AccountBalance{
			Currency: b.Currency,
			Total:    b.Total,
			Locked:   b.Locked,
			Free:     b.Free(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return AccountState{
		EventID:     uuid.NewString(),
		AccountID:   a.ID,
		AccountType: a.Type,
		Balances:    out,
		TsEvent:     tsNs,
	}
}
