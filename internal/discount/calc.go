// Package discount computes the time-value funding amount advanced against
// an invoice. All math is integer fixed-point over 256-bit words: the face
// value is validated to fit 128 bits at invoice creation, so the
// multiply-before-divide below cannot overflow (128 + 14 + 35 bits < 256).
package discount

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// SecondsPerYear is the annualization basis for the discount rate.
const SecondsPerYear = 365 * 24 * 60 * 60

// ValidateRate rejects discount rates above 100%.
func ValidateRate(rateBps uint16) error {
	if rateBps > domain.BpsDenominator {
		return domain.ErrInvalidRate
	}
	return nil
}

// FundingAmount returns the discounted amount advanced to the supplier:
//
//	faceValue - faceValue * rateBps * secondsToMaturity / (10000 * SecondsPerYear)
//
// with the discount rounded down and the result clamped to zero. At or past
// maturity the result equals faceValue exactly.
func FundingAmount(faceValue *uint256.Int, rateBps uint16, maturity, now time.Time) *uint256.Int {
	secs := SecondsToMaturity(maturity, now)
	if secs == 0 || rateBps == 0 {
		return new(uint256.Int).Set(faceValue)
	}

	// Multiply before dividing to avoid precision loss.
	d := new(uint256.Int).Mul(faceValue, uint256.NewInt(uint64(rateBps)))
	d.Mul(d, uint256.NewInt(secs))
	d.Div(d, uint256.NewInt(domain.BpsDenominator*SecondsPerYear))

	if d.Cmp(faceValue) >= 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(faceValue, d)
}

// SecondsToMaturity returns max(0, maturity - now) in whole seconds.
func SecondsToMaturity(maturity, now time.Time) uint64 {
	if !maturity.After(now) {
		return 0
	}
	return uint64(maturity.Sub(now) / time.Second)
}
