package control

import "testing"

// Scenario 1: happy path Huawei PV_ESS, target=200, pcc=170,
// available_discharge=50 -> write last_cmd + 0.3*(200-170) = last_cmd + 9.
func TestScenarioHappyPathPVESSDischarge(t *testing.T) {
	errKW := 200.0 - 170.0
	if !essCompatible(errKW, 0, 50) {
		t.Fatal("discharge path should be compatible when available_discharge > 0")
	}
	lastCmd := 150.0
	newCmd := nextESSCommand(lastCmd, 0.3, errKW)
	want := lastCmd + 9.0
	if newCmd != want {
		t.Fatalf("want %v, got %v", want, newCmd)
	}
}

// Scenario 3: PV_ONLY saturation, rated 250, target=300, pcc=260, KP=0.3,
// last_cmd=260 -> 260+0.3*40=272 -> clamped to 250.
func TestScenarioPVOnlySaturation(t *testing.T) {
	errKW := 300.0 - 260.0
	newLimit, saturated := nextPVLimit(260, 0.3, errKW, 250)
	if newLimit != 250 {
		t.Fatalf("want clamp to 250, got %v", newLimit)
	}
	if !saturated {
		t.Fatal("want saturated=true when clamped at rated power with positive error")
	}
}

func TestNextPVLimitClampsToZero(t *testing.T) {
	newLimit, saturated := nextPVLimit(5, 0.3, -100, 250)
	if newLimit != 0 {
		t.Fatalf("want clamp to 0, got %v", newLimit)
	}
	if saturated {
		t.Fatal("saturated should only trip on positive error")
	}
}

func TestESSCompatibleChargeDirection(t *testing.T) {
	if !essCompatible(-10, 5, 0) {
		t.Fatal("negative error with available charge should be compatible")
	}
	if essCompatible(-10, 0, 5) {
		t.Fatal("negative error with zero charge capacity should not be compatible")
	}
	if essCompatible(10, 5, 0) {
		t.Fatal("positive error with zero discharge capacity should not be compatible")
	}
}
