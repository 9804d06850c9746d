package amortization

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/note-lending/internal/models"
)

func TestDeriveFixedPayment_KnownAnnuity(t *testing.T) {
	payment, err := DeriveFixedPayment(1_000_000, 500, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(112825), payment)
}

func TestDeriveFixedPayment_CoversPrincipal(t *testing.T) {
	cases := []struct {
		principal int64
		rate      int64
		periods   int
	}{
		{1_000_000, 500, 12},
		{13, 1, 12},
		{100_000, 0, 7},
		{1, 0, 3},
		{999_999_937, 25, 360},
		{5_000, 10_000, 4},
		{1000, 100, 1},
	}

	for _, tc := range cases {
		payment, err := DeriveFixedPayment(tc.principal, tc.rate, tc.periods)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, payment*int64(tc.periods), tc.principal,
			"principal=%d rate=%d periods=%d", tc.principal, tc.rate, tc.periods)
	}
}

func TestDeriveFixedPayment_ZeroRateRoundsUp(t *testing.T) {
	payment, err := DeriveFixedPayment(100_000, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(14286), payment)
}

func TestDeriveFixedPayment_RejectsInvalid(t *testing.T) {
	_, err := DeriveFixedPayment(0, 500, 12)
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = DeriveFixedPayment(-5, 500, 12)
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = DeriveFixedPayment(1000, -1, 12)
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = DeriveFixedPayment(1000, 500, 0)
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = DeriveFixedPayment(1000, 500, MaxPeriods+1)
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = DerivePrincipalInstallment(1000, 4_000_000)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestDeriveFixedPayment_LongestSchedule(t *testing.T) {
	p, err := DeriveFixedPayment(1_000_000, 500, MaxPeriods)
	require.NoError(t, err)
	// the annuity converges on the per-period interest
	assert.Equal(t, int64(50000), p)
}

func TestDerivePrincipalInstallment(t *testing.T) {
	installment, err := DerivePrincipalInstallment(1_000_003, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(83333), installment)
	assert.Equal(t, int64(83340), FinalPrincipal(1_000_003, installment, 12))

	_, err = DerivePrincipalInstallment(1000, 0)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestInterest_Floors(t *testing.T) {
	assert.Equal(t, int64(50000), Interest(1_000_000, 500))
	assert.Equal(t, int64(0), Interest(199, 50))
	assert.Equal(t, int64(1), Interest(200, 50))
	assert.Equal(t, int64(0), Interest(0, 500))
}

func TestMulDivFloor_NoOverflow(t *testing.T) {
	assert.Equal(t, int64(4_611_686_018_427_387_903), MulDivFloor(9_223_372_036_854_775_807, 5000, 10000))
}

func TestFirstDueDate(t *testing.T) {
	from := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), FirstDueDate(from, 15))
	assert.Equal(t, time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC), FirstDueDate(from, 5))
	assert.Equal(t, time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), FirstDueDate(from, 10))
}

func TestNextDueDate_CrossesYear(t *testing.T) {
	due := time.Date(2026, 12, 28, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 28, 0, 0, 0, 0, time.UTC), NextDueDate(due, 28))
}
