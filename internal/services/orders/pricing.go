package orders

import (
	"github.com/shopspring/decimal"

	"storefront_back_end/internal/config"
	"storefront_back_end/internal/models"
)

// Pricing calcule les frais ajoutés au sous-total des articles.
type Pricing interface {
	Shipping(subtotal decimal.Decimal, ship models.ShippingInfo) decimal.Decimal
	Tax(subtotal decimal.Decimal, ship models.ShippingInfo) decimal.Decimal
}

// FlatPricing applique partout un seul forfait de livraison et un seul taux de taxe.
type FlatPricing struct {
	ShippingCost decimal.Decimal
	TaxRate      decimal.Decimal
}

func NewFlatPricing(cfg config.PricingConfig) FlatPricing {
	return FlatPricing{ShippingCost: cfg.ShippingCost, TaxRate: cfg.TaxRate}
}

// DefaultPricing : 10.00 de livraison et 10 % de taxe.
var DefaultPricing = FlatPricing{
	ShippingCost: decimal.NewFromInt(10),
	TaxRate:      decimal.RequireFromString("0.10"),
}

func (p FlatPricing) Shipping(decimal.Decimal, models.ShippingInfo) decimal.Decimal {
	return models.Cents(p.ShippingCost)
}

func (p FlatPricing) Tax(subtotal decimal.Decimal, _ models.ShippingInfo) decimal.Decimal {
	return models.Cents(subtotal.Mul(p.TaxRate))
}
