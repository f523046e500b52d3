package app

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/gohappygo/payment-service/internal/domain"
	"github.com/gohappygo/payment-service/internal/store"
)

// stubPricingRepo is an in-memory PricingRepository for tests.
type stubPricingRepo struct {
	tiers     []domain.PricingTier
	listErr   error
	listCalls int
}

func (s *stubPricingRepo) ListPricingTiers(ctx context.Context) ([]domain.PricingTier, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.PricingTier, len(s.tiers))
	copy(out, s.tiers)
	return out, nil
}

func (s *stubPricingRepo) GetPricingTierByID(ctx context.Context, tierID uuid.UUID) (*domain.PricingTier, error) {
	for i := range s.tiers {
		if s.tiers[i].ID == tierID {
			tier := s.tiers[i]
			return &tier, nil
		}
	}
	return nil, store.ErrTierNotFound
}

func (s *stubPricingRepo) CreatePricingTier(ctx context.Context, tier *domain.PricingTier) error {
	s.tiers = append(s.tiers, *tier)
	return nil
}

func (s *stubPricingRepo) UpdatePricingTier(ctx context.Context, tier *domain.PricingTier) error {
	for i := range s.tiers {
		if s.tiers[i].ID == tier.ID {
			s.tiers[i] = *tier
			return nil
		}
	}
	return store.ErrTierNotFound
}

func (s *stubPricingRepo) DeletePricingTier(ctx context.Context, tierID uuid.UUID) error {
	for i := range s.tiers {
		if s.tiers[i].ID == tierID {
			s.tiers = append(s.tiers[:i], s.tiers[i+1:]...)
			return nil
		}
	}
	return store.ErrTierNotFound
}

func defaultTiers() []domain.PricingTier {
	return []domain.PricingTier{
		{ID: uuid.New(), LowerBound: 0, UpperBound: 20, Fee: 3},
		{ID: uuid.New(), LowerBound: 20, UpperBound: 50, Fee: 6},
		{ID: uuid.New(), LowerBound: 50, UpperBound: 100, Fee: 10},
		{ID: uuid.New(), LowerBound: 100, UpperBound: 151, Fee: 15},
	}
}

func newTestPricingService(repo *stubPricingRepo, useTiered bool) *PricingService {
	return NewPricingService(repo, nil, 0, 20, 15, 151, useTiered)
}

func TestRoundToNearestHalf(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{1.2, 1.0},
		{1.3, 1.5},
		{1.75, 2.0},
		{3.6, 3.5},
		{15.0, 15.0},
		{0.24, 0.0},
		{0.26, 0.5},
	}
	for _, tc := range cases {
		if got := roundToNearestHalf(tc.in); got != tc.want {
			t.Errorf("roundToNearestHalf(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}

	// Result is always a multiple of 0.5 and within 0.25 of the input.
	for x := 0.0; x < 200; x += 0.07 {
		r := roundToNearestHalf(x)
		if math.Mod(r*2, 1) != 0 {
			t.Fatalf("roundToNearestHalf(%v) = %v is not a multiple of 0.5", x, r)
		}
		if math.Abs(r-x) > 0.25+1e-9 {
			t.Fatalf("roundToNearestHalf(%v) = %v drifts more than 0.25", x, r)
		}
	}
}

func TestCalculateFeeZeroAndNegative(t *testing.T) {
	svc := newTestPricingService(&stubPricingRepo{tiers: defaultTiers()}, false)

	for _, amount := range []float64{0, -1, -99.5} {
		fee, err := svc.CalculateFee(context.Background(), amount)
		if err != nil {
			t.Fatalf("CalculateFee(%v) returned error: %v", amount, err)
		}
		if fee != 0 {
			t.Errorf("CalculateFee(%v) = %v, want 0", amount, fee)
		}
	}
}

func TestCalculateFeeTieredRange(t *testing.T) {
	repo := &stubPricingRepo{tiers: defaultTiers()}
	svc := newTestPricingService(repo, false)

	cases := []struct {
		amount float64
		want   float64
	}{
		{10, 3},
		{20, 6}, // shared boundary belongs to the upper tier
		{49.99, 6},
		{50, 10},
		{150, 15},
	}
	for _, tc := range cases {
		fee, err := svc.CalculateFee(context.Background(), tc.amount)
		if err != nil {
			t.Fatalf("CalculateFee(%v) returned error: %v", tc.amount, err)
		}
		if fee != tc.want {
			t.Errorf("CalculateFee(%v) = %v, want %v", tc.amount, fee, tc.want)
		}
	}
}

func TestCalculateFeeAboveCeilingUsesFlatPercent(t *testing.T) {
	repo := &stubPricingRepo{tiers: defaultTiers()}
	svc := newTestPricingService(repo, false)

	fee, err := svc.CalculateFee(context.Background(), 200)
	if err != nil {
		t.Fatalf("CalculateFee returned error: %v", err)
	}
	if fee != 30 {
		t.Errorf("CalculateFee(200) = %v, want 30", fee)
	}
	if repo.listCalls != 0 {
		t.Errorf("expected no tier lookup above the ceiling, got %d", repo.listCalls)
	}

	// 15% of 157 is 23.55, rounded to the nearest half unit.
	fee, err = svc.CalculateFee(context.Background(), 157)
	if err != nil {
		t.Fatalf("CalculateFee returned error: %v", err)
	}
	if fee != 23.5 {
		t.Errorf("CalculateFee(157) = %v, want 23.5", fee)
	}

	// The ceiling itself is outside the tiered range.
	fee, err = svc.CalculateFee(context.Background(), 151)
	if err != nil {
		t.Fatalf("CalculateFee returned error: %v", err)
	}
	if fee != 22.5 {
		t.Errorf("CalculateFee(151) = %v, want 22.5", fee)
	}
}

func TestCalculateFeeGapInTierTable(t *testing.T) {
	repo := &stubPricingRepo{tiers: []domain.PricingTier{
		{ID: uuid.New(), LowerBound: 0, UpperBound: 20, Fee: 3},
		{ID: uuid.New(), LowerBound: 50, UpperBound: 100, Fee: 10},
	}}
	svc := newTestPricingService(repo, false)

	_, err := svc.CalculateFee(context.Background(), 30)
	if !errors.Is(err, ErrTierGap) {
		t.Fatalf("expected ErrTierGap, got %v", err)
	}
}

func TestCalculateTotalAmountFlatOverwrite(t *testing.T) {
	// The tier table says 10 for an amount of 100, but the flat fee wins
	// unless the tiered-fee flag is on.
	repo := &stubPricingRepo{tiers: defaultTiers()}
	svc := newTestPricingService(repo, false)

	breakdown, err := svc.CalculateTotalAmount(context.Background(), 100)
	if err != nil {
		t.Fatalf("CalculateTotalAmount returned error: %v", err)
	}
	if breakdown.Fee != 15 {
		t.Errorf("Fee = %v, want 15", breakdown.Fee)
	}
	if breakdown.TVAAmount != 3 {
		t.Errorf("TVAAmount = %v, want 3", breakdown.TVAAmount)
	}
	if breakdown.TotalAmount != 118 {
		t.Errorf("TotalAmount = %v, want 118", breakdown.TotalAmount)
	}
	// The tiered fee was still resolved before being overwritten.
	if repo.listCalls == 0 {
		t.Error("expected the tier table to be consulted for an amount below the ceiling")
	}
}

func TestCalculateTotalAmountTieredFlagEnabled(t *testing.T) {
	repo := &stubPricingRepo{tiers: defaultTiers()}
	svc := newTestPricingService(repo, true)

	breakdown, err := svc.CalculateTotalAmount(context.Background(), 100)
	if err != nil {
		t.Fatalf("CalculateTotalAmount returned error: %v", err)
	}
	if breakdown.Fee != 15 {
		t.Errorf("Fee = %v, want 15 (tier [100,151))", breakdown.Fee)
	}

	breakdown, err = svc.CalculateTotalAmount(context.Background(), 30)
	if err != nil {
		t.Fatalf("CalculateTotalAmount returned error: %v", err)
	}
	if breakdown.Fee != 6 {
		t.Errorf("Fee = %v, want tiered fee 6", breakdown.Fee)
	}
	if breakdown.TVAAmount != 1.2 {
		t.Errorf("TVAAmount = %v, want 1.2", breakdown.TVAAmount)
	}
	if breakdown.TotalAmount != 37.2 {
		t.Errorf("TotalAmount = %v, want 37.2", breakdown.TotalAmount)
	}
}

func TestCalculateTotalAmountWeightPricing(t *testing.T) {
	// 6kg at 4 per kg: traveler payment 24, flat fee 3.5, tva 0.7.
	repo := &stubPricingRepo{tiers: defaultTiers()}
	svc := newTestPricingService(repo, false)

	breakdown, err := svc.CalculateTotalAmount(context.Background(), 6*4)
	if err != nil {
		t.Fatalf("CalculateTotalAmount returned error: %v", err)
	}
	if breakdown.Fee != 3.5 {
		t.Errorf("Fee = %v, want 3.5", breakdown.Fee)
	}
	if breakdown.TVAAmount != 0.7 {
		t.Errorf("TVAAmount = %v, want 0.7", breakdown.TVAAmount)
	}
	if breakdown.TotalAmount != 28.2 {
		t.Errorf("TotalAmount = %v, want 28.2", breakdown.TotalAmount)
	}
}

func TestCalculateTotalAmountPropagatesTierGap(t *testing.T) {
	repo := &stubPricingRepo{tiers: []domain.PricingTier{
		{ID: uuid.New(), LowerBound: 0, UpperBound: 20, Fee: 3},
	}}
	svc := newTestPricingService(repo, false)

	_, err := svc.CalculateTotalAmount(context.Background(), 75)
	if !errors.Is(err, ErrTierGap) {
		t.Fatalf("expected ErrTierGap, got %v", err)
	}
}

func TestCreateTierRejectsOverlap(t *testing.T) {
	repo := &stubPricingRepo{tiers: defaultTiers()}
	svc := newTestPricingService(repo, false)

	_, err := svc.CreateTier(context.Background(), domain.PricingTierPayload{
		LowerBound: 40, UpperBound: 60, Fee: 8,
	})
	if !errors.Is(err, ErrTierOverlap) {
		t.Fatalf("expected ErrTierOverlap, got %v", err)
	}
}

func TestCreateTierRejectsInvalidBounds(t *testing.T) {
	repo := &stubPricingRepo{}
	svc := newTestPricingService(repo, false)

	cases := []domain.PricingTierPayload{
		{LowerBound: 10, UpperBound: 10, Fee: 2},
		{LowerBound: 20, UpperBound: 10, Fee: 2},
		{LowerBound: -5, UpperBound: 10, Fee: 2},
		{LowerBound: 140, UpperBound: 160, Fee: 20}, // past the ceiling
	}
	for _, payload := range cases {
		if _, err := svc.CreateTier(context.Background(), payload); !errors.Is(err, ErrInvalidTierBounds) {
			t.Errorf("CreateTier(%+v): expected ErrInvalidTierBounds, got %v", payload, err)
		}
	}
}

func TestUpdateTierExcludesSelfFromOverlapCheck(t *testing.T) {
	tiers := defaultTiers()
	repo := &stubPricingRepo{tiers: tiers}
	svc := newTestPricingService(repo, false)

	// Shrinking a tier inside its own current range must not trip the
	// overlap check against itself.
	updated, err := svc.UpdateTier(context.Background(), tiers[1].ID, domain.PricingTierPayload{
		LowerBound: 25, UpperBound: 45, Fee: 7,
	})
	if err != nil {
		t.Fatalf("UpdateTier returned error: %v", err)
	}
	if updated.Fee != 7 || updated.LowerBound != 25 {
		t.Errorf("unexpected updated tier: %+v", updated)
	}

	// Colliding with a neighbor still fails.
	_, err = svc.UpdateTier(context.Background(), tiers[1].ID, domain.PricingTierPayload{
		LowerBound: 25, UpperBound: 60, Fee: 7,
	})
	if !errors.Is(err, ErrTierOverlap) {
		t.Fatalf("expected ErrTierOverlap, got %v", err)
	}
}
