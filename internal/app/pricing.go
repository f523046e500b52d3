/**
 * @description
 * Platform pricing logic: resolving a traveler-payment amount to a fee
 * through the configured tier table, deriving the requester's total charge,
 * and validating tier configuration on admin writes.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and sentinel errors.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/gohappygo/payment-service/internal/domain"
)

const (
	pricingTierCacheKey = "pricing:tiers"
	pricingTierCacheTag = "pricing-tiers"
)

var (
	// ErrTierGap means no configured tier covers an amount below the flat-fee
	// ceiling. Tiers are supposed to densely cover that range, so this is a
	// deployment/configuration bug, not user error.
	ErrTierGap = errors.New("no pricing tier covers this amount")
	// ErrInvalidTierBounds rejects tiers with inverted bounds or bounds at or
	// above the flat-fee ceiling.
	ErrInvalidTierBounds = errors.New("invalid pricing tier bounds")
	// ErrTierOverlap rejects a tier whose range intersects an existing one.
	ErrTierOverlap = errors.New("pricing tier range overlaps an existing tier")
)

// PricingRepository is the slice of the store the pricing service needs.
type PricingRepository interface {
	ListPricingTiers(ctx context.Context) ([]domain.PricingTier, error)
	GetPricingTierByID(ctx context.Context, tierID uuid.UUID) (*domain.PricingTier, error)
	CreatePricingTier(ctx context.Context, tier *domain.PricingTier) error
	UpdatePricingTier(ctx context.Context, tier *domain.PricingTier) error
	DeletePricingTier(ctx context.Context, tierID uuid.UUID) error
}

// PricingService resolves platform fees and manages the tier table.
type PricingService struct {
	repo         PricingRepository
	cache        TierCache
	cacheTTL     time.Duration
	tvaPercent   float64
	flatPercent  float64
	tierCeiling  float64
	useTieredFee bool
}

// NewPricingService creates a pricing service. cache may be nil.
func NewPricingService(repo PricingRepository, cache TierCache, cacheTTL time.Duration, tvaPercent, flatPercent, tierCeiling float64, useTieredFee bool) *PricingService {
	return &PricingService{
		repo:         repo,
		cache:        cache,
		cacheTTL:     cacheTTL,
		tvaPercent:   tvaPercent,
		flatPercent:  flatPercent,
		tierCeiling:  tierCeiling,
		useTieredFee: useTieredFee,
	}
}

// FlatMultiplier returns the factor that turns a traveler payment into a
// total under the flat-fee regime: 1 + fee% + tva-on-fee. At the default
// 15% fee and 20% TVA this is 1.18, the divisor used when reverse-deriving
// a traveler payment from a total.
func (s *PricingService) FlatMultiplier() float64 {
	feeFraction := s.flatPercent / 100
	return 1 + feeFraction + (s.tvaPercent/100)*feeFraction
}

// roundToNearestHalf rounds to the nearest 0.5 currency unit, halves rounded
// away from zero (1.2 -> 1.0, 1.3 -> 1.5, 1.75 -> 2.0).
func roundToNearestHalf(x float64) float64 {
	return math.Round(x*2) / 2
}

// round2 rounds to 2 decimal places.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// flatFee computes the flat percentage fee, rounded to the nearest half
// currency unit.
func (s *PricingService) flatFee(travelerPayment float64) float64 {
	return roundToNearestHalf(s.flatPercent / 100 * travelerPayment)
}

// loadTiers returns the tier table ordered by lower bound ascending,
// cache-aside through the tagged cache.
func (s *PricingService) loadTiers(ctx context.Context) ([]domain.PricingTier, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, pricingTierCacheKey); ok {
			var tiers []domain.PricingTier
			if err := json.Unmarshal(cached, &tiers); err == nil {
				return tiers, nil
			}
			log.Printf("level=warn component=pricing msg=\"discarding undecodable tier cache entry\"")
		}
	}

	tiers, err := s.repo.ListPricingTiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing tiers: %w", err)
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(tiers); err == nil {
			s.cache.Set(ctx, pricingTierCacheKey, encoded, s.cacheTTL, pricingTierCacheTag)
		}
	}

	return tiers, nil
}

// CalculateFee maps a traveler-payment amount to a platform fee. Zero and
// negative amounts carry no fee. Amounts at or above the tier ceiling always
// use the flat percentage; below it, the tier containing the amount wins,
// and a gap in tier coverage is a configuration error.
func (s *PricingService) CalculateFee(ctx context.Context, travelerPayment float64) (float64, error) {
	if travelerPayment <= 0 {
		return 0, nil
	}
	if travelerPayment >= s.tierCeiling {
		return s.flatFee(travelerPayment), nil
	}

	tiers, err := s.loadTiers(ctx)
	if err != nil {
		return 0, err
	}
	for _, tier := range tiers {
		if tier.Contains(travelerPayment) {
			return tier.Fee, nil
		}
	}

	return 0, fmt.Errorf("%w: %.2f", ErrTierGap, travelerPayment)
}

// CalculateTotalAmount derives the requester's total charge from a
// traveler-payment amount.
//
// The tiered fee is resolved for amounts at or below the ceiling, but unless
// the tiered-fee flag is enabled it is then overwritten by the flat
// percentage fee. That overwrite reproduces the production billing behavior
// this service replaces, where the flat fee applied to every amount; whether
// the tier table should ever win is an open product question, so both
// behaviors sit behind PRICING_USE_TIERED_FEE.
func (s *PricingService) CalculateTotalAmount(ctx context.Context, travelerPayment float64) (*domain.FeeBreakdown, error) {
	var fee float64
	if travelerPayment > 0 && travelerPayment < s.tierCeiling {
		tierFee, err := s.CalculateFee(ctx, travelerPayment)
		if err != nil {
			return nil, err
		}
		fee = tierFee
	}

	if !s.useTieredFee || travelerPayment >= s.tierCeiling {
		fee = s.flatFee(travelerPayment)
	}

	tvaAmount := round2(s.tvaPercent / 100 * fee)
	totalAmount := round2(travelerPayment + fee + tvaAmount)

	return &domain.FeeBreakdown{
		TravelerPayment: travelerPayment,
		Fee:             fee,
		TVAAmount:       tvaAmount,
		TotalAmount:     totalAmount,
	}, nil
}

// ListTiers returns the configured tier table.
func (s *PricingService) ListTiers(ctx context.Context) ([]domain.PricingTier, error) {
	return s.loadTiers(ctx)
}

// CreateTier validates and persists a new tier, then invalidates the tier
// cache tag.
func (s *PricingService) CreateTier(ctx context.Context, payload domain.PricingTierPayload) (*domain.PricingTier, error) {
	tier := domain.PricingTier{
		ID:         uuid.New(),
		LowerBound: payload.LowerBound,
		UpperBound: payload.UpperBound,
		Fee:        payload.Fee,
	}

	if err := s.validateTier(ctx, tier, uuid.Nil); err != nil {
		return nil, err
	}
	if err := s.repo.CreatePricingTier(ctx, &tier); err != nil {
		return nil, err
	}

	s.invalidateTierCache(ctx)
	return &tier, nil
}

// UpdateTier validates and persists changes to an existing tier, excluding
// the tier itself from the overlap check.
func (s *PricingService) UpdateTier(ctx context.Context, tierID uuid.UUID, payload domain.PricingTierPayload) (*domain.PricingTier, error) {
	existing, err := s.repo.GetPricingTierByID(ctx, tierID)
	if err != nil {
		return nil, err
	}

	existing.LowerBound = payload.LowerBound
	existing.UpperBound = payload.UpperBound
	existing.Fee = payload.Fee

	if err := s.validateTier(ctx, *existing, tierID); err != nil {
		return nil, err
	}
	if err := s.repo.UpdatePricingTier(ctx, existing); err != nil {
		return nil, err
	}

	s.invalidateTierCache(ctx)
	return existing, nil
}

// DeleteTier removes a tier and invalidates the tier cache tag.
func (s *PricingService) DeleteTier(ctx context.Context, tierID uuid.UUID) error {
	if err := s.repo.DeletePricingTier(ctx, tierID); err != nil {
		return err
	}
	s.invalidateTierCache(ctx)
	return nil
}

// validateTier enforces bound ordering, the ceiling, and pairwise
// non-overlap across all existing tiers. excludeID skips the tier being
// updated.
func (s *PricingService) validateTier(ctx context.Context, tier domain.PricingTier, excludeID uuid.UUID) error {
	if tier.LowerBound < 0 || tier.LowerBound >= tier.UpperBound {
		return fmt.Errorf("%w: lower bound must be non-negative and below upper bound", ErrInvalidTierBounds)
	}
	// Upper bounds are exclusive, so a tier may end exactly at the ceiling.
	if tier.UpperBound > s.tierCeiling {
		return fmt.Errorf("%w: bounds must stay within %.0f (flat fee applies above)", ErrInvalidTierBounds, s.tierCeiling)
	}

	existing, err := s.repo.ListPricingTiers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tiers for overlap check: %w", err)
	}
	for _, other := range existing {
		if other.ID == excludeID {
			continue
		}
		if tier.Overlaps(other) {
			return fmt.Errorf("%w: [%.2f, %.2f] intersects [%.2f, %.2f]",
				ErrTierOverlap, tier.LowerBound, tier.UpperBound, other.LowerBound, other.UpperBound)
		}
	}

	return nil
}

func (s *PricingService) invalidateTierCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTag(ctx, pricingTierCacheTag); err != nil {
		log.Printf("level=warn component=pricing msg=\"tier cache invalidation failed\" err=%v", err)
	}
}
