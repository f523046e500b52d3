/**
 * @description
 * Domain models for platform pricing: fee tiers configured by operators and
 * the fee breakdown returned to requesters when quoting a shipment.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PricingTier maps a traveler-payment range to a platform fee. Tiers are
// expected to densely cover the range below the flat-fee ceiling; amounts
// above it always use the flat percentage instead.
type PricingTier struct {
	ID         uuid.UUID `json:"id"`
	LowerBound float64   `json:"lower_bound"`
	UpperBound float64   `json:"upper_bound"`
	Fee        float64   `json:"fee"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Contains reports whether amount falls within the tier's range. Ranges are
// half-open, lower bound inclusive and upper bound exclusive, so adjacent
// tiers can share a boundary without ambiguity.
func (t PricingTier) Contains(amount float64) bool {
	return t.LowerBound <= amount && amount < t.UpperBound
}

// Overlaps reports whether the two tiers' half-open ranges intersect.
// Tiers that merely touch at a boundary do not overlap.
func (t PricingTier) Overlaps(other PricingTier) bool {
	return t.LowerBound < other.UpperBound && other.LowerBound < t.UpperBound
}

// PricingTierPayload is the DTO for creating or updating a pricing tier.
type PricingTierPayload struct {
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
	Fee        float64 `json:"fee"`
}

// FeeBreakdown is the result of a total-amount calculation: the base traveler
// payment, the platform's cut, the tax on that cut, and the total the
// requester pays.
type FeeBreakdown struct {
	TravelerPayment float64 `json:"traveler_payment"`
	Fee             float64 `json:"fee"`
	TVAAmount       float64 `json:"tva_amount"`
	TotalAmount     float64 `json:"total_amount"`
}
