// Package units maps a product's stock-keeping unit (pieces) to its sellable
// units (piece, sheet, box) and back, driven by the per-product packaging
// factors.
package units

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"botikapos/backend/internal/domain"
)

var (
	ErrInvalidUnit      = errors.New("invalid unit")
	ErrInvalidPackaging = errors.New("invalid packaging")
)

// Factor returns how many pieces one unit of the given kind holds.
func Factor(product domain.Product, unit domain.Unit) (int, error) {
	switch unit {
	case domain.UnitPiece:
		return 1, nil
	case domain.UnitSheet:
		if product.PiecesPerSheet < 1 {
			return 0, fmt.Errorf("%w: pieces_per_sheet=%d for product %s", ErrInvalidPackaging, product.PiecesPerSheet, product.ID)
		}
		return product.PiecesPerSheet, nil
	case domain.UnitBox:
		if product.PiecesPerSheet < 1 || product.SheetsPerBox < 1 {
			return 0, fmt.Errorf("%w: pieces_per_sheet=%d sheets_per_box=%d for product %s", ErrInvalidPackaging, product.PiecesPerSheet, product.SheetsPerBox, product.ID)
		}
		return product.PiecesPerSheet * product.SheetsPerBox, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}
}

// ToPieces converts a quantity expressed in the given unit to pieces.
func ToPieces(product domain.Product, quantity int, unit domain.Unit) (int, error) {
	factor, err := Factor(product, unit)
	if err != nil {
		return 0, err
	}
	return quantity * factor, nil
}

// FromPieces converts a piece quantity to the given unit. Non-integral
// results are rejected: the unit is not available for that quantity.
func FromPieces(product domain.Product, pieces int, unit domain.Unit) (int, error) {
	factor, err := Factor(product, unit)
	if err != nil {
		return 0, err
	}
	if pieces%factor != 0 {
		return 0, fmt.Errorf("%w: %d pieces is not a whole number of %s", ErrInvalidUnit, pieces, unit)
	}
	return pieces / factor, nil
}

// UnitPrice returns the price of one unit of the given kind.
func UnitPrice(product domain.Product, unit domain.Unit) (decimal.Decimal, error) {
	factor, err := Factor(product, unit)
	if err != nil {
		return decimal.Zero, err
	}
	return product.PricePerPiece.Mul(decimal.NewFromInt(int64(factor))), nil
}

// Parse validates a unit token from the wire.
func Parse(raw string) (domain.Unit, error) {
	switch domain.Unit(raw) {
	case domain.UnitPiece, domain.UnitSheet, domain.UnitBox:
		return domain.Unit(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, raw)
	}
}
