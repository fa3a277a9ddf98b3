package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CartItem is one raw line submitted at checkout. SKUs are matched
// case-insensitively; quantities for repeated SKUs are merged.
type CartItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Promotion is the bundle offer attached to a product: Quantity units for a
// fixed SpecialPrice, cheaper than Quantity times the regular unit price.
type Promotion struct {
	Quantity     int             `json:"quantity"`
	SpecialPrice decimal.Decimal `json:"special_price"`
}

// Product carries the catalog snapshot used for pricing: the unit price and
// the currently active promotion, if any.
type Product struct {
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	Promotion *Promotion
}

// Line is one breakdown entry for an aggregated SKU. Promotion is non-nil
// only when PromotionApplied is true.
type Line struct {
	SKU              string          `json:"sku"`
	ProductName      string          `json:"product_name"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	RegularTotal     decimal.Decimal `json:"regular_total"`
	LineTotal        decimal.Decimal `json:"line_total"`
	Savings          decimal.Decimal `json:"savings"`
	PromotionApplied bool            `json:"promotion_applied"`
	Promotion        *Promotion      `json:"promotion"`
}

// Result is the complete output contract of one pricing calculation. Every
// downstream consumer (sale persistence, receipt rendering) is built from
// this plus product-name snapshots.
type Result struct {
	Breakdown    []Line          `json:"breakdown"`
	Total        decimal.Decimal `json:"total"`
	RegularTotal decimal.Decimal `json:"regular_total"`
	TotalSavings decimal.Decimal `json:"total_savings"`
	ItemsInput   []CartItem      `json:"items_input"`
}

// InvalidSKUError reports every requested SKU that did not resolve to an
// active product, in first-encountered order.
type InvalidSKUError struct {
	SKUs []string
}

func (e *InvalidSKUError) Error() string {
	if len(e.SKUs) == 1 {
		return fmt.Sprintf("Product with SKU '%s' not found or is inactive.", e.SKUs[0])
	}
	return "The following SKUs are invalid: " + strings.Join(e.SKUs, ", ")
}

// Normalize folds raw cart lines into per-SKU aggregated quantities. SKUs are
// upper-cased and duplicate lines merge by summing quantities. The returned
// slice preserves first-occurrence order, which drives breakdown ordering.
func Normalize(items []CartItem) ([]string, map[string]int) {
	order := make([]string, 0, len(items))
	counts := make(map[string]int, len(items))
	for _, item := range items {
		sku := strings.ToUpper(strings.TrimSpace(item.SKU))
		if _, seen := counts[sku]; !seen {
			order = append(order, sku)
		}
		counts[sku] += item.Quantity
	}
	return order, counts
}

// Price computes the amount charged for quantity units of the product. With
// an active promotion the quantity decomposes into full bundles at the
// special price plus a remainder at the regular unit price. A quantity of
// zero or less prices to zero.
func Price(p Product, quantity int) decimal.Decimal {
	if quantity <= 0 {
		return decimal.Zero
	}
	if p.Promotion == nil || p.Promotion.Quantity <= 0 {
		return p.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	}
	fullSets := quantity / p.Promotion.Quantity
	remainder := quantity % p.Promotion.Quantity
	bundled := p.Promotion.SpecialPrice.Mul(decimal.NewFromInt(int64(fullSets)))
	return bundled.Add(p.UnitPrice.Mul(decimal.NewFromInt(int64(remainder))))
}

// Calculate normalizes the cart, validates that every SKU resolved to an
// active product, and produces the full breakdown with aggregates. The
// products map is keyed by normalized SKU. Any unresolved SKU aborts the
// whole calculation with an InvalidSKUError listing all offenders; no
// partial result is produced.
func Calculate(items []CartItem, products map[string]Product) (Result, error) {
	order, counts := Normalize(items)

	var invalid []string
	for _, sku := range order {
		if _, ok := products[sku]; !ok {
			invalid = append(invalid, sku)
		}
	}
	if len(invalid) > 0 {
		return Result{}, &InvalidSKUError{SKUs: invalid}
	}

	result := Result{
		Breakdown:    make([]Line, 0, len(order)),
		Total:        decimal.Zero,
		RegularTotal: decimal.Zero,
		TotalSavings: decimal.Zero,
		ItemsInput:   items,
	}
	for _, sku := range order {
		product := products[sku]
		quantity := counts[sku]

		regular := product.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))
		line := Price(product, quantity)
		savings := regular.Sub(line)
		if savings.IsNegative() {
			savings = decimal.Zero
		}
		applied := product.Promotion != nil && savings.IsPositive()

		entry := Line{
			SKU:              sku,
			ProductName:      product.Name,
			Quantity:         quantity,
			UnitPrice:        product.UnitPrice,
			RegularTotal:     regular,
			LineTotal:        line,
			Savings:          savings,
			PromotionApplied: applied,
		}
		if applied {
			promo := *product.Promotion
			entry.Promotion = &promo
		}
		result.Breakdown = append(result.Breakdown, entry)
		result.Total = result.Total.Add(line)
		result.RegularTotal = result.RegularTotal.Add(regular)
		result.TotalSavings = result.TotalSavings.Add(savings)
	}
	return result, nil
}
