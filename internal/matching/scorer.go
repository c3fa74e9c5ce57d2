// Package matching implements the rule/exact/fuzzy/oracle matching pipeline
// that pairs bank statement transactions with book transactions.
package matching

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Weights of the fuzzy confidence blend.
const (
	descriptionWeight = 0.6
	amountWeight      = 0.4
)

var (
	oneDollar     = decimal.NewFromInt(1)
	centTolerance = decimal.RequireFromString("0.01")
	proximitySpan = decimal.NewFromInt(100)
)

// DescriptionSimilarity returns the Jaccard similarity of the lowercase word
// sets of a and b, in [0, 1]. Two empty descriptions are treated as
// dissimilar rather than identical.
func DescriptionSimilarity(a, b string) float64 {
	wordsA := tokenize(a)
	wordsB := tokenize(b)

	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}

	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union)
}

// AmountProximity returns 1.0 when the amounts differ by less than one
// dollar, decaying linearly to 0 at a $100 difference. Signs are ignored:
// a bank debit of -150.00 is compared against a book expense of 150.00.
func AmountProximity(x, y decimal.Decimal) float64 {
	diff := x.Abs().Sub(y.Abs()).Abs()

	if diff.LessThan(oneDollar) {
		return 1.0
	}

	score := decimal.NewFromInt(1).Sub(diff.Div(proximitySpan))
	if score.IsNegative() {
		return 0
	}
	return score.InexactFloat64()
}

// FuzzyConfidence blends description similarity and amount proximity into a
// single confidence score in [0, 1].
func FuzzyConfidence(descA, descB string, amountA, amountB decimal.Decimal) float64 {
	return descriptionWeight*DescriptionSimilarity(descA, descB) +
		amountWeight*AmountProximity(amountA, amountB)
}

// AmountsExactlyMatch reports whether two amounts agree to within a cent,
// ignoring sign.
func AmountsExactlyMatch(x, y decimal.Decimal) bool {
	return x.Abs().Sub(y.Abs()).Abs().LessThan(centTolerance)
}

func tokenize(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		words[w] = true
	}
	return words
}
