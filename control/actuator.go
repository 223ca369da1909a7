package control

import (
	"context"
	"fmt"
	"math"

	"github.com/devskill-org/alteo-site-controller/fieldbus"
	"github.com/devskill-org/alteo-site-controller/registermap"
	"github.com/devskill-org/alteo-site-controller/site"
)

// Actuator is the small capability interface the design notes call for,
// replacing runtime vendor-string checks with a tagged dispatch: one
// implementation per vendor, selected once when the regulator is built.
type Actuator interface {
	// ApplyPVLimit curtails a PV inverter's output to valueKW.
	ApplyPVLimit(ctx context.Context, bus *fieldbus.Client, catalog *registermap.Catalog, ep site.Endpoint, valueKW, normalPowerKW float64) error
}

// HuaweiActuator writes the PV limit as a 32-bit signed integer,
// high-word-first, scaled by the descriptor's gain.
type HuaweiActuator struct{}

func (HuaweiActuator) ApplyPVLimit(ctx context.Context, bus *fieldbus.Client, catalog *registermap.Catalog, ep site.Endpoint, valueKW, normalPowerKW float64) error {
	pd, err := catalog.Point(site.VendorHuawei, registermap.ClassMeter, "activePowerAdjustment")
	if err != nil {
		return err
	}
	return bus.WritePoint(ctx, ep, pd, valueKW)
}

// FroniusActuator computes a percentage of rated power, writes the
// documented enable value first, then the percentage itself.
type FroniusActuator struct{}

func (FroniusActuator) ApplyPVLimit(ctx context.Context, bus *fieldbus.Client, catalog *registermap.Catalog, ep site.Endpoint, valueKW, normalPowerKW float64) error {
	if normalPowerKW <= 0 {
		return fmt.Errorf("control: fronius PV limit requires normal_power_kw > 0")
	}
	percent := (valueKW / normalPowerKW) * 100
	percent = math.Max(0, math.Min(100, percent))

	pd, err := catalog.Point(site.VendorFronius, registermap.ClassMeter, "activePowerLimitPercent")
	if err != nil {
		return err
	}
	return bus.WritePoint(ctx, ep, pd, math.Trunc(percent))
}

// ActuatorFor dispatches on the plant's vendor tag, the tagged-variant
// pattern the design notes call for in place of runtime string checks.
func ActuatorFor(vendor site.Vendor) (Actuator, error) {
	switch vendor {
	case site.VendorHuawei:
		return HuaweiActuator{}, nil
	case site.VendorFronius:
		return FroniusActuator{}, nil
	default:
		return nil, fmt.Errorf("control: no PV-limit actuator for vendor %q", vendor)
	}
}
