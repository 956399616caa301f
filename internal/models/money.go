package models

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ToMinorUnits convertit un montant en centimes entiers, arrondi au demi
// supérieur en valeur absolue.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Cents arrondit un montant à deux décimales.
func Cents(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}
