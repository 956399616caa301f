package store

import (
	"sort"

	"storefront_back_end/internal/models"
)

func sortProducts(ps []models.Product) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
}

func sortRefundsOldestFirst(rs []models.Refund) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.Before(rs[j].CreatedAt) })
}
