// Package pricing computes the dollar cost of a request from token usage and
// a model's price table. All arithmetic is exact decimal; results are rounded
// to six fractional digits, matching the precision stored and displayed.
package pricing

import "github.com/shopspring/decimal"

// Precision is the number of fractional digits kept on every cost figure.
const Precision = 6

var perMillion = decimal.NewFromInt(1_000_000)

// Cost is the per-request cost breakdown.
type Cost struct {
	Input  decimal.Decimal
	Output decimal.Decimal
	Total  decimal.Decimal
}

// Zero returns an all-zero cost breakdown.
func Zero() Cost {
	return Cost{Input: decimal.Zero, Output: decimal.Zero, Total: decimal.Zero}
}

// Calculate derives the cost of a request. Prices are dollars per 1,000,000
// tokens. Negative token counts are treated as zero; the result is never
// negative. Deterministic, no I/O.
func Calculate(inputTokens, outputTokens int, inputPricePer1M, outputPricePer1M decimal.Decimal) Cost {
	input := tokenCost(inputTokens, inputPricePer1M)
	output := tokenCost(outputTokens, outputPricePer1M)

	return Cost{
		Input:  input,
		Output: output,
		Total:  input.Add(output),
	}
}

// MinimumCharge is the conservative floor used when reserving balance before
// the real usage is known: the cost of a single input token, but never zero
// for a priced model.
func MinimumCharge(inputPricePer1M decimal.Decimal) decimal.Decimal {
	charge := tokenCost(1, inputPricePer1M)
	if charge.IsZero() && inputPricePer1M.IsPositive() {
		return decimal.New(1, -Precision) // smallest representable step
	}
	return charge
}

// tokenCost rounds half-up to Precision digits. decimal.Round rounds half
// away from zero, which is half-up for the non-negative values handled here.
func tokenCost(tokens int, pricePer1M decimal.Decimal) decimal.Decimal {
	if tokens <= 0 || pricePer1M.Sign() <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(tokens)).Mul(pricePer1M).Div(perMillion).Round(Precision)
}
