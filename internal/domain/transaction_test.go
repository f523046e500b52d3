package domain

import "testing"

func TestCanTransitionForwardOnly(t *testing.T) {
	allowed := []struct{ from, to string }{
		{TransactionStatusPending, TransactionStatusPaid},
		{TransactionStatusPending, TransactionStatusCancelled},
		{TransactionStatusPaid, TransactionStatusAwaitingTransfer},
		{TransactionStatusPaid, TransactionStatusRefunded},
		{TransactionStatusAwaitingTransfer, TransactionStatusPaid},
		{TransactionStatusAwaitingTransfer, TransactionStatusRefunded},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to string }{
		{TransactionStatusPaid, TransactionStatusPending},
		{TransactionStatusCancelled, TransactionStatusPaid},
		{TransactionStatusRefunded, TransactionStatusPaid},
		{TransactionStatusRefunded, TransactionStatusPending},
		{TransactionStatusCancelled, TransactionStatusRefunded},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestCanTransitionSameStatusIdempotent(t *testing.T) {
	for _, status := range []string{
		TransactionStatusPending,
		TransactionStatusPaid,
		TransactionStatusAwaitingTransfer,
		TransactionStatusRefunded,
		TransactionStatusCancelled,
	} {
		if !CanTransition(status, status) {
			t.Errorf("CanTransition(%s, %s) = false, want true", status, status)
		}
	}
}

func TestPricingTierContainsAndOverlaps(t *testing.T) {
	tier := PricingTier{LowerBound: 20, UpperBound: 50}

	if !tier.Contains(20) {
		t.Error("lower bound should be inclusive")
	}
	if tier.Contains(50) {
		t.Error("upper bound should be exclusive")
	}
	if tier.Contains(19.99) || tier.Contains(50.01) {
		t.Error("amounts outside the range must not match")
	}

	adjacent := PricingTier{LowerBound: 50, UpperBound: 100}
	if tier.Overlaps(adjacent) || adjacent.Overlaps(tier) {
		t.Error("tiers sharing a boundary must not overlap")
	}

	crossing := PricingTier{LowerBound: 40, UpperBound: 60}
	if !tier.Overlaps(crossing) || !crossing.Overlaps(tier) {
		t.Error("intersecting tiers must overlap")
	}

	inner := PricingTier{LowerBound: 25, UpperBound: 30}
	if !tier.Overlaps(inner) || !inner.Overlaps(tier) {
		t.Error("containment must count as overlap")
	}
}
