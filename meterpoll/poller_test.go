package meterpoll

import "testing"

func TestPlantKeyFormat(t *testing.T) {
	if got := plantKey(42); got != "plant:42" {
		t.Fatalf("want plant:42, got %s", got)
	}
	if got := plantKey(0); got != "plant:0" {
		t.Fatalf("want plant:0, got %s", got)
	}
}
