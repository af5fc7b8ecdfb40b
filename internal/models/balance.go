package models

import (
	"github.com/shopspring/decimal"
)

type Balance struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Total returns available plus locked amount
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}
