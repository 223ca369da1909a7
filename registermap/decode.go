package registermap

import (
	"fmt"
	"math"

	"github.com/devskill-org/alteo-site-controller/site"
)

// Decode turns the raw register bytes for pd into a scaled float64,
// dispatching on pd.Encoding. Bytes must be exactly 2*pd.Count long,
// registers concatenated high-word first per the Modbus-TCP wire format.
func Decode(pd PointDef, raw []byte) (float64, error) {
	switch pd.Encoding {
	case EncodingU16:
		return decodeU16(pd, raw)
	case EncodingS16:
		return decodeS16(pd, raw)
	case EncodingU32:
		return decodeU32(pd, raw)
	case EncodingS32:
		return decodeS32(pd, raw)
	case EncodingFloat32:
		return decodeFloat32(pd, raw)
	case EncodingFroniusPF:
		return decodeFroniusPF(raw)
	default:
		return 0, fmt.Errorf("registermap: unknown encoding %q", pd.Encoding)
	}
}

func gain(pd PointDef) float64 {
	if pd.Gain == 0 {
		return 1
	}
	return pd.Gain
}

func decodeU16(pd PointDef, raw []byte) (float64, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("registermap: u16 needs 2 bytes, got %d", len(raw))
	}
	v := uint16(raw[0])<<8 | uint16(raw[1])
	return float64(v) / gain(pd), nil
}

func decodeS16(pd PointDef, raw []byte) (float64, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("registermap: s16 needs 2 bytes, got %d", len(raw))
	}
	v := int16(uint16(raw[0])<<8 | uint16(raw[1]))
	return float64(v) / gain(pd), nil
}

func decodeU32(pd PointDef, raw []byte) (float64, error) {
	if len(raw) < 4 {
		return 0, fmt.Errorf("registermap: u32 needs 4 bytes, got %d", len(raw))
	}
	v := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	return float64(v) / gain(pd), nil
}

func decodeS32(pd PointDef, raw []byte) (float64, error) {
	if len(raw) < 4 {
		return 0, fmt.Errorf("registermap: s32 needs 4 bytes, got %d", len(raw))
	}
	v := int32(uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3]))
	return float64(v) / gain(pd), nil
}

func decodeFloat32(pd PointDef, raw []byte) (float64, error) {
	if len(raw) < 4 {
		return 0, fmt.Errorf("registermap: float32 needs 4 bytes, got %d", len(raw))
	}
	bits := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	return float64(math.Float32frombits(bits)), nil
}

// decodeFroniusPF implements the Fronius power-factor special case: the
// first register is a signed 16-bit mantissa, the second a signed 16-bit
// decimal scale factor; value = mantissa * 10^scale.
func decodeFroniusPF(raw []byte) (float64, error) {
	if len(raw) < 4 {
		return 0, fmt.Errorf("registermap: fronius_pf needs 4 bytes, got %d", len(raw))
	}
	mantissa := int16(uint16(raw[0])<<8 | uint16(raw[1]))
	scale := int16(uint16(raw[2])<<8 | uint16(raw[3]))
	return float64(mantissa) * math.Pow(10, float64(scale)), nil
}

// EncodeS32 writes a signed 32-bit high-word-first value scaled by gain,
// the inverse of decodeS32, used by the control executor to build a write
// payload for an ESS power setpoint register.
func EncodeS32(pd PointDef, value float64) []byte {
	scaled := int32(math.Round(value * gain(pd)))
	u := uint32(scaled)
	return []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
}

// EncodeFloat32 writes an IEEE-754 float32 high-word-first.
func EncodeFloat32(value float64) []byte {
	bits := math.Float32bits(float32(value))
	return []byte{byte(bits >> 24), byte(bits >> 16), byte(bits >> 8), byte(bits)}
}

// NormalizeCosPhi applies the vendor magnitude rule and clamps to [-1, 1]:
// Fronius values are magnitude-only (sign discarded), Huawei passes through.
func NormalizeCosPhi(vendor site.Vendor, raw float64) float64 {
	v := raw
	if vendor == site.VendorFronius {
		v = math.Abs(v)
	}
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return v
}

// CosPhiToAngleDegrees computes phi = arccos(|cos phi|) in degrees; sign is
// carried from Huawei's signed cos phi, unconditionally positive for
// Fronius (which only ever reports a magnitude).
func CosPhiToAngleDegrees(vendor site.Vendor, cosPhi float64) float64 {
	mag := math.Abs(cosPhi)
	if mag > 1 {
		mag = 1
	}
	angle := math.Acos(mag) * 180 / math.Pi
	if vendor == site.VendorHuawei && cosPhi < 0 {
		return -angle
	}
	return angle
}
