// Package amortization derives periodic repayment amounts for notes.
//
// All amounts are integer minor units and all rates are per-period basis
// points. Every division floors; residuals are pushed to the final period.
package amortization

import (
	"fmt"
	"math/big"

	"github.com/Dan9191/note-lending/internal/models"
)

// BpsDenominator is the number of basis points in one whole
const BpsDenominator = 10000

// MaxPeriods bounds a schedule at 100 years of monthly payments
const MaxPeriods = 1200

// DeriveFixedPayment returns the equal-installment payment for principal
// repaid over periods at periodRateBps.
//
// The annuity P·r·(1+r)^n / ((1+r)^n − 1) is evaluated exactly and floored.
// The result is never below ceil(P/n), so payment×n always covers principal.
func DeriveFixedPayment(principal, periodRateBps int64, periods int) (int64, error) {
	if err := validateTerms(principal, periods); err != nil {
		return 0, err
	}
	if periodRateBps < 0 {
		return 0, fmt.Errorf("%w: negative rate %d bps", models.ErrValidation, periodRateBps)
	}

	floorShare := (principal + int64(periods) - 1) / int64(periods)
	if periodRateBps == 0 {
		return floorShare, nil
	}

	n := big.NewInt(int64(periods))
	base := big.NewInt(BpsDenominator)
	growth := new(big.Int).Exp(big.NewInt(BpsDenominator+periodRateBps), n, nil)
	baseN := new(big.Int).Exp(base, n, nil)

	// P * r * g^n / (10000 * (g^n - 10000^n)), with g = 10000 + r
	num := new(big.Int).Mul(big.NewInt(principal), big.NewInt(periodRateBps))
	num.Mul(num, growth)
	den := new(big.Int).Sub(growth, baseN)
	den.Mul(den, base)

	payment := new(big.Int).Quo(num, den)
	if !payment.IsInt64() {
		return 0, fmt.Errorf("%w: fixed payment overflows", models.ErrValidation)
	}
	if p := payment.Int64(); p > floorShare {
		return p, nil
	}
	return floorShare, nil
}

// DerivePrincipalInstallment returns floor(principal / periods). The final
// period settles principal − installment×(periods−1).
func DerivePrincipalInstallment(principal int64, periods int) (int64, error) {
	if err := validateTerms(principal, periods); err != nil {
		return 0, err
	}
	return principal / int64(periods), nil
}

// FinalPrincipal returns the principal component of the last period of an
// equal-principal schedule.
func FinalPrincipal(principal, installment int64, periods int) int64 {
	return principal - installment*int64(periods-1)
}

// Interest returns floor(principal × rateBps / 10000).
func Interest(principal, rateBps int64) int64 {
	return MulDivFloor(principal, rateBps, BpsDenominator)
}

// MulDivFloor returns floor(a×b/c) for non-negative operands without
// intermediate overflow.
func MulDivFloor(a, b, c int64) int64 {
	if a <= 0 || b <= 0 || c <= 0 {
		return 0
	}
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	r.Quo(r, big.NewInt(c))
	return r.Int64()
}

func validateTerms(principal int64, periods int) error {
	if principal <= 0 {
		return fmt.Errorf("%w: principal must be positive, got %d", models.ErrValidation, principal)
	}
	if periods <= 0 || periods > MaxPeriods {
		return fmt.Errorf("%w: periods must be within 1..%d, got %d", models.ErrValidation, MaxPeriods, periods)
	}
	return nil
}
