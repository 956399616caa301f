package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToMinorUnits(t *testing.T) {
	cases := map[string]int64{
		"43":      4300,
		"43.00":   4300,
		"0.01":    1,
		"19.99":   1999,
		"10.005":  1001,
		"10.0049": 1000,
		"0":       0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ToMinorUnits(decimal.RequireFromString(in)), in)
	}
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	for _, s := range []string{"0.10", "1.99", "43.00", "100.00", "123456.78"} {
		d := decimal.RequireFromString(s)
		assert.True(t, d.Equal(FromMinorUnits(ToMinorUnits(d))), s)
	}
}

func TestCompletedTotal(t *testing.T) {
	refunds := []Refund{
		{Amount: decimal.RequireFromString("40.00"), Status: RefundCompleted},
		{Amount: decimal.RequireFromString("5.00"), Status: RefundProcessing},
		{Amount: decimal.RequireFromString("2.50"), Status: RefundCompleted},
	}
	assert.Equal(t, "42.5", CompletedTotal(refunds).String())
}
