package units

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"botikapos/backend/internal/domain"
)

func testProduct() domain.Product {
	return domain.Product{
		ID:             "prod-amoxicillin",
		Name:           "Amoxicillin 500mg",
		PricePerPiece:  decimal.RequireFromString("5.00"),
		PiecesPerSheet: 10,
		SheetsPerBox:   10,
	}
}

func TestFactorPerUnit(t *testing.T) {
	product := testProduct()

	cases := []struct {
		unit domain.Unit
		want int
	}{
		{domain.UnitPiece, 1},
		{domain.UnitSheet, 10},
		{domain.UnitBox, 100},
	}
	for _, tc := range cases {
		got, err := Factor(product, tc.unit)
		if err != nil {
			t.Fatalf("Factor(%s) failed: %v", tc.unit, err)
		}
		if got != tc.want {
			t.Fatalf("Factor(%s) = %d, want %d", tc.unit, got, tc.want)
		}
	}
}

func TestFactorRejectsUnknownUnit(t *testing.T) {
	_, err := Factor(testProduct(), domain.Unit("pallet"))
	if !errors.Is(err, ErrInvalidUnit) {
		t.Fatalf("expected ErrInvalidUnit, got %v", err)
	}
}

func TestFactorRejectsBrokenPackaging(t *testing.T) {
	product := testProduct()
	product.PiecesPerSheet = 0

	if _, err := Factor(product, domain.UnitSheet); !errors.Is(err, ErrInvalidPackaging) {
		t.Fatalf("expected ErrInvalidPackaging for sheet, got %v", err)
	}
	if _, err := Factor(product, domain.UnitBox); !errors.Is(err, ErrInvalidPackaging) {
		t.Fatalf("expected ErrInvalidPackaging for box, got %v", err)
	}
}

func TestToPieces(t *testing.T) {
	got, err := ToPieces(testProduct(), 3, domain.UnitSheet)
	if err != nil {
		t.Fatalf("ToPieces failed: %v", err)
	}
	if got != 30 {
		t.Fatalf("expected 30 pieces, got %d", got)
	}
}

func TestFromPiecesRejectsNonIntegral(t *testing.T) {
	if _, err := FromPieces(testProduct(), 25, domain.UnitSheet); !errors.Is(err, ErrInvalidUnit) {
		t.Fatalf("expected rejection of 25 pieces as sheets, got %v", err)
	}

	got, err := FromPieces(testProduct(), 200, domain.UnitBox)
	if err != nil {
		t.Fatalf("FromPieces failed: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected 2 boxes, got %d", got)
	}
}

func TestUnitPrice(t *testing.T) {
	price, err := UnitPrice(testProduct(), domain.UnitBox)
	if err != nil {
		t.Fatalf("UnitPrice failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected box price 500.00, got %s", price)
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("sheet"); err != nil {
		t.Fatalf("expected sheet to parse: %v", err)
	}
	if _, err := Parse("bottle"); !errors.Is(err, ErrInvalidUnit) {
		t.Fatalf("expected ErrInvalidUnit for bottle, got %v", err)
	}
}
