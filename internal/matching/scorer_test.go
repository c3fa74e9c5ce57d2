package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDescriptionSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{
			name:     "identical descriptions",
			a:        "ACME CORP PAYMENT",
			b:        "acme corp payment",
			expected: 1.0,
		},
		{
			name:     "disjoint descriptions",
			a:        "PAYPAL FEE",
			b:        "GROCERY STORE",
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			a:        "ACME CORP",
			b:        "ACME SUPPLIES LTD",
			expected: 0.25, // 1 shared word over 4 total
		},
		{
			name:     "empty description scores zero",
			a:        "",
			b:        "ACME CORP",
			expected: 0.0,
		},
		{
			name:     "both empty score zero",
			a:        "",
			b:        "",
			expected: 0.0,
		},
		{
			name:     "repeated words count once",
			a:        "fee fee fee",
			b:        "fee",
			expected: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, DescriptionSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestAmountProximity(t *testing.T) {
	tests := []struct {
		name     string
		x        string
		y        string
		expected float64
	}{
		{name: "identical amounts", x: "150.00", y: "150.00", expected: 1.0},
		{name: "sub-dollar difference", x: "150.00", y: "150.99", expected: 1.0},
		{name: "sign ignored", x: "-150.00", y: "150.00", expected: 1.0},
		{name: "ten dollar gap", x: "100.00", y: "110.00", expected: 0.9},
		{name: "fifty dollar gap", x: "100.00", y: "150.00", expected: 0.5},
		{name: "hundred dollar gap floors at zero", x: "100.00", y: "200.00", expected: 0.0},
		{name: "beyond span floors at zero", x: "100.00", y: "500.00", expected: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := decimal.RequireFromString(tt.x)
			y := decimal.RequireFromString(tt.y)
			assert.InDelta(t, tt.expected, AmountProximity(x, y), 1e-9)
		})
	}
}

func TestFuzzyConfidence(t *testing.T) {
	// Perfect description, perfect amount: 0.6 + 0.4
	score := FuzzyConfidence("ACME CORP", "ACME CORP",
		decimal.RequireFromString("150.00"), decimal.RequireFromString("150.00"))
	assert.InDelta(t, 1.0, score, 1e-9)

	// No description overlap, perfect amount: only the 0.4 amount weight
	score = FuzzyConfidence("PAYPAL FEE", "GROCERY STORE",
		decimal.RequireFromString("150.00"), decimal.RequireFromString("150.00"))
	assert.InDelta(t, 0.4, score, 1e-9)

	// Confidence always stays within [0, 1]
	score = FuzzyConfidence("", "",
		decimal.RequireFromString("0"), decimal.RequireFromString("9999"))
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestAmountsExactlyMatch(t *testing.T) {
	assert.True(t, AmountsExactlyMatch(
		decimal.RequireFromString("-150.00"), decimal.RequireFromString("150.00")))
	assert.True(t, AmountsExactlyMatch(
		decimal.RequireFromString("150.005"), decimal.RequireFromString("150.00")))
	assert.False(t, AmountsExactlyMatch(
		decimal.RequireFromString("150.02"), decimal.RequireFromString("150.00")))
}
