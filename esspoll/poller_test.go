package esspoll

import "testing"

func TestCalculateCapacityFloorsAtZero(t *testing.T) {
	if got := calculateCapacity(100, -5); got != 0 {
		t.Fatalf("want 0 for negative span, got %v", got)
	}
}

func TestCalculateCapacitySplitsBySOCSpan(t *testing.T) {
	// total 50 kWh, soc 60%, min 0 max 100 -> charge span 40%, discharge span 60%
	charge := calculateCapacity(50, 40)
	discharge := calculateCapacity(50, 60)
	if charge != 20 {
		t.Fatalf("want charge 20, got %v", charge)
	}
	if discharge != 30 {
		t.Fatalf("want discharge 30, got %v", discharge)
	}
	if charge+discharge > 50 {
		t.Fatalf("invariant violated: charge+discharge must be <= total capacity")
	}
}
