package registermap

import (
	"errors"
	"math"
	"testing"

	"github.com/devskill-org/alteo-site-controller/site"
)

func TestDecodeS32RoundTrip(t *testing.T) {
	pd := PointDef{Encoding: EncodingS32, Gain: 10}
	cases := []float64{0, 1.5, -1.5, 2000.1, -2000.1}
	for _, v := range cases {
		raw := EncodeS32(pd, v)
		got, err := Decode(pd, raw)
		if err != nil {
			t.Fatalf("decode(%v): %v", v, err)
		}
		if math.Abs(got-v) > 0.01 {
			t.Fatalf("round trip: want %v, got %v", v, got)
		}
	}
}

func TestDecodeFloat32RoundTrip(t *testing.T) {
	pd := PointDef{Encoding: EncodingFloat32}
	cases := []float64{0, 123.45, -99.9}
	for _, v := range cases {
		raw := EncodeFloat32(v)
		got, err := Decode(pd, raw)
		if err != nil {
			t.Fatalf("decode(%v): %v", v, err)
		}
		if math.Abs(got-v) > 0.001 {
			t.Fatalf("round trip: want %v, got %v", v, got)
		}
	}
}

func TestDecodeFroniusPF(t *testing.T) {
	// scenario 5: registers (0x0064, 0xFFFE) -> mantissa 100, scale -2 -> 1.00
	raw := []byte{0x00, 0x64, 0xFF, 0xFE}
	got, err := Decode(PointDef{Encoding: EncodingFroniusPF}, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("want 1.00, got %v", got)
	}
}

func TestNormalizeCosPhiClampsAndAppliesVendorMagnitude(t *testing.T) {
	if got := NormalizeCosPhi(site.VendorFronius, -0.87); got != 0.87 {
		t.Fatalf("fronius magnitude rule: want 0.87, got %v", got)
	}
	if got := NormalizeCosPhi(site.VendorHuawei, -0.87); got != -0.87 {
		t.Fatalf("huawei passthrough: want -0.87, got %v", got)
	}
	if got := NormalizeCosPhi(site.VendorHuawei, 5); got != 1 {
		t.Fatalf("clamp high: want 1, got %v", got)
	}
	if got := NormalizeCosPhi(site.VendorHuawei, -5); got != -1 {
		t.Fatalf("clamp low: want -1, got %v", got)
	}
}

func TestCosPhiToAngleDegrees(t *testing.T) {
	if got := CosPhiToAngleDegrees(site.VendorHuawei, 1); math.Abs(got) > 1e-9 {
		t.Fatalf("cos(1) -> 0deg, got %v", got)
	}
	if got := CosPhiToAngleDegrees(site.VendorHuawei, -1); math.Abs(got) > 1e-9 {
		t.Fatalf("sign carried but magnitude still 0deg, got %v", got)
	}
	if got := CosPhiToAngleDegrees(site.VendorFronius, -0.5); got <= 0 {
		t.Fatalf("fronius angle always positive, got %v", got)
	}
}

func TestLoadCatalogMissingDescriptorError(t *testing.T) {
	_, err := LoadCatalog(t.TempDir(), []struct {
		Vendor site.Vendor
		Class  DeviceClass
	}{{site.VendorHuawei, ClassMeter}})
	if err == nil {
		t.Fatal("want error for missing descriptor")
	}
	var derr *DescriptorError
	if !errors.As(err, &derr) {
		t.Fatalf("want *DescriptorError, got %T", err)
	}
}
