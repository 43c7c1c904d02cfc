// File: internal/pricing/pricing_test.go
// Project: Coldport
// Description: Tests for the port trade pricing curve
package pricing

import "testing"

func TestFillRatio(t *testing.T) {
	cases := []struct {
		name     string
		quantity int64
		size     int64
		want     float64
	}{
		{"empty port", 0, 10, 0},
		{"half full", 5000, 10, 0.5},
		{"at capacity", 10000, 10, 1},
		{"over capacity clamps to 1", 20000, 10, 1},
		{"zero size clamps to 0", 100, 0, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := FillRatio(c.quantity, c.size); got != c.want {
				t.Errorf("FillRatio(%d, %d) = %v, want %v", c.quantity, c.size, got, c.want)
			}
		})
	}
}

func TestStandardCurveSellPrice(t *testing.T) {
	cases := []struct {
		name      string
		basePrice int64
		r         float64
		want      int64
	}{
		{"empty port is most expensive", 100, 0, 150},
		{"half full", 100, 0.5, 100},
		{"full port floors at 1", 1, 1, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := StandardCurve.SellPrice(c.basePrice, c.r); got != c.want {
				t.Errorf("SellPrice(%d, %v) = %d, want %d", c.basePrice, c.r, got, c.want)
			}
		})
	}
}

func TestStandardCurveBuyPrice(t *testing.T) {
	cases := []struct {
		name      string
		basePrice int64
		r         float64
		want      int64
	}{
		{"empty port pays full", 100, 0, 100},
		{"full port pays half", 100, 1, 50},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := StandardCurve.BuyPrice(c.basePrice, c.r); got != c.want {
				t.Errorf("BuyPrice(%d, %v) = %d, want %d", c.basePrice, c.r, got, c.want)
			}
		})
	}
}

func TestPricesNeverGoBelowOne(t *testing.T) {
	c := Curve{SellCoeffA: 1.5, BuyCoeffA: 1.0, BuyCoeffB: 0.5}
	if got := c.SellPrice(0, 1); got != 1 {
		t.Errorf("SellPrice floor: got %d, want 1", got)
	}
	if got := c.BuyPrice(0, 1); got != 1 {
		t.Errorf("BuyPrice floor: got %d, want 1", got)
	}
}
