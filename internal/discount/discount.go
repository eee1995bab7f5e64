// Package discount computes the discount amount for a sale subtotal.
// Compute is pure: the same inputs always produce the same result, and the
// amount is always derived from the subtotal passed in, never carried over
// from an earlier cart state.
package discount

import (
	"strings"

	"github.com/shopspring/decimal"

	"botikapos/backend/internal/domain"
)

// StatutoryPercent is the legally mandated PWD/senior-citizen discount rate.
var StatutoryPercent = decimal.NewFromInt(20)

// MinIDNumberLen is the shortest ID number accepted as presented for a
// statutory discount.
const MinIDNumberLen = 3

var hundred = decimal.NewFromInt(100)

// Compute resolves a discount selection against a subtotal.
//
// For pwd/senior the percentage is fixed at 20 but the amount is forced to
// zero until an ID number of at least MinIDNumberLen characters is presented;
// the selection itself is retained so the terminal can keep showing it as
// pending. Custom percentages are clamped to [0, 100]. Unknown types behave
// as none.
func Compute(selection domain.DiscountSelection, subtotal decimal.Decimal) domain.DiscountResult {
	switch selection.Type {
	case domain.DiscountPWD, domain.DiscountSenior:
		result := domain.DiscountResult{
			Type:       selection.Type,
			Percentage: StatutoryPercent,
			Amount:     decimal.Zero,
		}
		if len(strings.TrimSpace(selection.IDNumber)) < MinIDNumberLen {
			result.PendingID = true
			return result
		}
		result.Amount = subtotal.Mul(StatutoryPercent).Div(hundred).Round(2)
		return result
	case domain.DiscountCustom:
		pct := clampPercent(selection.CustomPercent)
		return domain.DiscountResult{
			Type:       domain.DiscountCustom,
			Percentage: pct,
			Amount:     subtotal.Mul(pct).Div(hundred).Round(2),
		}
	default:
		return domain.DiscountResult{Type: domain.DiscountNone, Percentage: decimal.Zero, Amount: decimal.Zero}
	}
}

func clampPercent(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		return decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}
