package tax

import (
	"math"

	"farmakart/backend/internal/domain"
)

// Breakdown is the result of taxing one line item. Tax is exclusive: it is
// added on top of the taxable base, never backed out of an inclusive price.
type Breakdown struct {
	SubtotalCents int64
	TaxableCents  int64
	Components    []domain.TaxComponentAmount
	TaxCents      int64
	TotalCents    int64
}

// CalculateLine computes the tax owed on one line under the given config.
// The taxable base is rate x quantity minus any line discount; each component
// is rounded to cents independently before summing. A disabled config yields
// zero tax for every component while the discount is still honored.
func CalculateLine(rateCents int64, quantity int, discountCents int64, cfg domain.TaxConfig) Breakdown {
	subtotal := rateCents * int64(quantity)
	taxable := subtotal - discountCents
	if taxable < 0 {
		taxable = 0
	}

	breakdown := Breakdown{
		SubtotalCents: subtotal,
		TaxableCents:  taxable,
		Components:    make([]domain.TaxComponentAmount, 0, len(cfg.Components)),
	}

	for _, component := range cfg.Components {
		amount := int64(0)
		if cfg.Enabled && component.RatePercent > 0 {
			amount = roundCents(float64(taxable) * component.RatePercent / 100)
		}
		breakdown.Components = append(breakdown.Components, domain.TaxComponentAmount{
			Name:        component.Name,
			RatePercent: component.RatePercent,
			AmountCents: amount,
		})
		breakdown.TaxCents += amount
	}

	breakdown.TotalCents = taxable + breakdown.TaxCents
	return breakdown
}

// NonZero filters a breakdown's components down to those with a non-zero
// amount, the shape user-facing receipts print.
func NonZero(components []domain.TaxComponentAmount) []domain.TaxComponentAmount {
	kept := make([]domain.TaxComponentAmount, 0, len(components))
	for _, component := range components {
		if component.AmountCents != 0 {
			kept = append(kept, component)
		}
	}
	return kept
}

func roundCents(value float64) int64 {
	return int64(math.Round(value))
}
