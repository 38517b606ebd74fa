package pricing

import (
	"pricing-service/internal/entity"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTier(t *testing.T) {
	tiers := []entity.QuantityTier{
		{ID: 2, MinQuantity: 6, MaxQuantity: ptr(10), TierDiscountAmount: nullDec("2")},
		{ID: 1, MinQuantity: 1, MaxQuantity: ptr(5), TierDiscountPercentage: nullDec("0.1")},
	}

	tests := []struct {
		quantity int
		wantID   int64
		found    bool
	}{
		{0, 0, false},
		{1, 1, true},
		{5, 1, true},
		{6, 2, true},
		{10, 2, true},
		{11, 0, false},
	}
	for _, tt := range tests {
		tier, ok := ResolveTier(tt.quantity, tiers)
		assert.Equal(t, tt.found, ok, "quantity %d", tt.quantity)
		assert.Equal(t, tt.wantID, tier.ID, "quantity %d", tt.quantity)
	}
}

func TestResolveTier_OverlapPicksLowestMinimum(t *testing.T) {
	tiers := []entity.QuantityTier{
		{ID: 2, MinQuantity: 3, TierPrice: nullDec("1")},
		{ID: 1, MinQuantity: 1, MaxQuantity: ptr(5), TierPrice: nullDec("2")},
	}
	tier, ok := ResolveTier(4, tiers)
	require.True(t, ok)
	assert.Equal(t, int64(1), tier.ID)
}

func TestValidateTiers(t *testing.T) {
	tests := []struct {
		name  string
		tiers []entity.QuantityTier
		valid bool
	}{
		{"empty", nil, true},
		{"contiguous", []entity.QuantityTier{
			{MinQuantity: 1, MaxQuantity: ptr(9), TierPrice: nullDec("100")},
			{MinQuantity: 10, TierDiscountPercentage: nullDec("0.2")},
		}, true},
		{"overlapping", []entity.QuantityTier{
			{MinQuantity: 1, MaxQuantity: ptr(10), TierPrice: nullDec("100")},
			{MinQuantity: 10, TierPrice: nullDec("90")},
		}, false},
		{"unbounded before another", []entity.QuantityTier{
			{MinQuantity: 1, TierPrice: nullDec("100")},
			{MinQuantity: 50, TierPrice: nullDec("90")},
		}, false},
		{"two outcomes", []entity.QuantityTier{
			{MinQuantity: 1, TierPrice: nullDec("100"), TierDiscountAmount: nullDec("1")},
		}, false},
		{"no outcome", []entity.QuantityTier{{MinQuantity: 1}}, false},
		{"max below min", []entity.QuantityTier{{MinQuantity: 5, MaxQuantity: ptr(2), TierPrice: nullDec("1")}}, false},
		{"percentage above one", []entity.QuantityTier{{MinQuantity: 1, TierDiscountPercentage: nullDec("15")}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTiers(tt.tiers)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTiers)
		})
	}
}
