package pricing

import (
	"errors"
	"fmt"
	"pricing-service/internal/entity"
	"sort"

	"github.com/shopspring/decimal"
)

var ErrInvalidTiers = errors.New("invalid quantity tiers")

// SortTiers returns a copy of tiers ordered by MinQuantity ascending.
func SortTiers(tiers []entity.QuantityTier) []entity.QuantityTier {
	sorted := make([]entity.QuantityTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinQuantity < sorted[j].MinQuantity
	})
	return sorted
}

// ResolveTier returns the first tier, by MinQuantity, whose bounds contain quantity.
func ResolveTier(quantity int, tiers []entity.QuantityTier) (entity.QuantityTier, bool) {
	return resolveSorted(quantity, SortTiers(tiers))
}

func resolveSorted(quantity int, sorted []entity.QuantityTier) (entity.QuantityTier, bool) {
	for _, tier := range sorted {
		if tier.MinQuantity > quantity {
			break
		}
		if tier.Contains(quantity) {
			return tier, true
		}
	}
	return entity.QuantityTier{}, false
}

// ValidateTiers checks bounds, the single-outcome rule and that no two ranges overlap.
func ValidateTiers(tiers []entity.QuantityTier) error {
	sorted := SortTiers(tiers)
	for i, tier := range sorted {
		if tier.MinQuantity < 0 {
			return fmt.Errorf("%w: min_quantity %d is negative", ErrInvalidTiers, tier.MinQuantity)
		}
		if tier.MaxQuantity != nil && *tier.MaxQuantity < tier.MinQuantity {
			return fmt.Errorf("%w: max_quantity %d below min_quantity %d", ErrInvalidTiers, *tier.MaxQuantity, tier.MinQuantity)
		}

		outcomes := 0
		for _, v := range []decimal.NullDecimal{tier.TierPrice, tier.TierDiscountPercentage, tier.TierDiscountAmount} {
			if !v.Valid {
				continue
			}
			outcomes++
			if v.Decimal.IsNegative() {
				return fmt.Errorf("%w: tier starting at %d has a negative value", ErrInvalidTiers, tier.MinQuantity)
			}
		}
		if outcomes != 1 {
			return fmt.Errorf("%w: tier starting at %d must set exactly one of tier_price, tier_discount_percentage, tier_discount_amount", ErrInvalidTiers, tier.MinQuantity)
		}
		if tier.TierDiscountPercentage.Valid && tier.TierDiscountPercentage.Decimal.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: tier_discount_percentage must be a fraction between 0 and 1", ErrInvalidTiers)
		}

		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.MaxQuantity == nil || *prev.MaxQuantity >= tier.MinQuantity {
			return fmt.Errorf("%w: tier starting at %d overlaps tier starting at %d", ErrInvalidTiers, tier.MinQuantity, prev.MinQuantity)
		}
	}
	return nil
}
