package model

import (
	"database/sql"
	"fmt"
	"strings"
)

// AccountType is the persisted discriminator of an account variant.
type AccountType int

const (
	AccountTypeCurrent AccountType = 1
	AccountTypeSavings AccountType = 2
)

func (t AccountType) String() string {
	switch t {
	case AccountTypeCurrent:
		return "Current Account"
	case AccountTypeSavings:
		return "Savings Account"
	default:
		return fmt.Sprintf("AccountType(%d)", int(t))
	}
}

// Variant is the closed set of account kinds. Only Current and Savings
// implement it.
type Variant interface {
	Type() AccountType
	isVariant()
}

// Current permits the balance to go negative down to -OverdraftLimit.
type Current struct {
	OverdraftLimit float64
}

// Savings never permits a negative balance.
type Savings struct {
	InterestRate float64
}

func (Current) Type() AccountType { return AccountTypeCurrent }
func (Savings) Type() AccountType { return AccountTypeSavings }
func (Current) isVariant()        {}
func (Savings) isVariant()        {}

// Holder is the personally-identifiable part of an account. Every field is
// encrypted at rest.
type Holder struct {
	Name         string
	AddressLine1 string
	AddressLine2 string
	AddressLine3 string
	Town         string
}

type Account struct {
	AccountNo string
	Holder
	Balance float64
	Variant Variant
}

// NormalizeAccountNo returns the key used for case-insensitive lookups.
func NormalizeAccountNo(accountNo string) string {
	return strings.ToLower(strings.TrimSpace(accountNo))
}

// AvailableFunds is the largest amount a withdrawal may take.
func (a *Account) AvailableFunds() float64 {
	switch v := a.Variant.(type) {
	case Current:
		return a.Balance + v.OverdraftLimit
	case Savings:
		return a.Balance
	default:
		return 0
	}
}

// CanWithdraw applies the variant's availability rule.
func (a *Account) CanWithdraw(amount float64) bool {
	return amount >= 0 && amount <= a.AvailableFunds()
}

// Clone returns a copy that shares no mutable state with a.
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}

// String renders the account for the operator console.
func (a *Account) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Account: %s\n", a.AccountNo)
	fmt.Fprintf(&b, "Name: %s\n", a.Name)
	fmt.Fprintf(&b, "Address: %s\n", a.AddressLine1)
	if a.AddressLine2 != "" {
		fmt.Fprintf(&b, "         %s\n", a.AddressLine2)
	}
	if a.AddressLine3 != "" {
		fmt.Fprintf(&b, "         %s\n", a.AddressLine3)
	}
	fmt.Fprintf(&b, "Town: %s\n", a.Town)
	fmt.Fprintf(&b, "Balance: €%.2f\n", a.Balance)
	if a.Variant == nil {
		return b.String()
	}
	fmt.Fprintf(&b, "Type: %s\n", a.Variant.Type())
	switch v := a.Variant.(type) {
	case Current:
		fmt.Fprintf(&b, "Overdraft: €%.2f\n", v.OverdraftLimit)
		fmt.Fprintf(&b, "Available Funds: €%.2f\n", a.AvailableFunds())
	case Savings:
		fmt.Fprintf(&b, "Interest Rate: %.2f%%\n", v.InterestRate)
	}
	return b.String()
}

// AccountRow is the persisted form of an account. The holder columns carry
// ciphertext produced by the field cipher.
type AccountRow struct {
	AccountNo       string
	Name            string
	AddressLine1    string
	AddressLine2    string
	AddressLine3    string
	Town            string
	Balance         float64
	AccountType     AccountType
	OverdraftAmount sql.NullFloat64
	InterestRate    sql.NullFloat64
}

// OpenAccountRequest carries validated operator input for a new account.
type OpenAccountRequest struct {
	Type         AccountType `validate:"required,oneof=1 2"`
	Name         string      `validate:"required,min=2,max=100"`
	AddressLine1 string      `validate:"max=100"`
	AddressLine2 string      `validate:"max=100"`
	AddressLine3 string      `validate:"max=100"`
	Town         string      `validate:"required,max=100"`
	Balance      float64     `validate:"gte=0,lte=1000000"`
	Overdraft    float64     `validate:"gte=0,lte=1000000"`
	InterestRate float64     `validate:"gte=0,lte=100"`
}
