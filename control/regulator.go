// Package control is the control executor (C8): one long-lived regulator
// goroutine per POD, each deciding per cycle whether to dispatch battery
// power, curtail PV, or do nothing. Grounded on scheduler/mpc.go's
// executeMPCDecision/runMPCExecution shape (read plant state, branch on a
// decision, write via the vendor client, track state for idempotent
// retry), narrowed from a day-ahead DP forecast to the spec's reactive
// proportional controller.
package control

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/devskill-org/alteo-site-controller/breaker"
	"github.com/devskill-org/alteo-site-controller/fieldbus"
	"github.com/devskill-org/alteo-site-controller/registermap"
	"github.com/devskill-org/alteo-site-controller/site"
	"github.com/devskill-org/alteo-site-controller/store"
	"github.com/devskill-org/alteo-site-controller/sun"
)

// State is the regulator's per-POD lifecycle state.
type State string

const (
	StateBootstrapping State = "BOOTSTRAPPING"
	StateSteady         State = "STEADY"
	StateSuppressed     State = "SUPPRESSED"
)

// Params bundles the tunables the regulator consults every cycle.
type Params struct {
	DeadbandKW       float64
	KP               float64
	MinWriteInterval time.Duration
}

// Regulator drives one POD's plant (and, for PV_ESS, its ESS) toward the
// inbox setpoint. Its state (state, lastCmdKW, lastWriteTS) is owned
// exclusively by this goroutine; nothing else touches it.
type Regulator struct {
	Plant   site.Plant
	ESS     func() (*site.ESSUnit, bool) // lazily resolved, may change only at restart
	Bus     *fieldbus.Client
	Catalog *registermap.Catalog
	Store   *store.Gateway
	Breaker *breaker.Breaker
	Params  Params
	Logger  *log.Logger

	state       State
	lastCmdKW   float64
	lastWriteTS time.Time
}

// NewRegulator constructs a regulator in the BOOTSTRAPPING state.
func NewRegulator(plant site.Plant, essLookup func() (*site.ESSUnit, bool), bus *fieldbus.Client, catalog *registermap.Catalog, st *store.Gateway, br *breaker.Breaker, params Params, logger *log.Logger) *Regulator {
	return &Regulator{
		Plant:   plant,
		ESS:     essLookup,
		Bus:     bus,
		Catalog: catalog,
		Store:   st,
		Breaker: br,
		Params:  params,
		Logger:  logger,
		state:   StateBootstrapping,
	}
}

// Tick runs one control cycle, gated by the store's advisory lock per
// §4.7's cross-process coordination requirement.
func (r *Regulator) Tick(ctx context.Context) {
	release, ok, err := r.Store.TryAdvisoryLock(ctx, r.Plant.PodID)
	if err != nil {
		r.Logger.Printf("control: pod %s: advisory lock: %v", r.Plant.PodID, err)
		return
	}
	if !ok {
		return // another process holds the lock; skip this cycle
	}
	defer release()

	breakerKey := "plant:" + r.Plant.PodID
	if r.Breaker.ShouldSkip(breakerKey) {
		r.state = StateSuppressed
		return
	}

	inbox, err := r.Store.LatestInbox(ctx, r.Plant.PodID)
	if err != nil || inbox == nil {
		return // data absence: skip this POD's cycle (§7.3)
	}

	pcc, err := r.Store.LatestPCCTelemetry(ctx, r.Plant.PlantID)
	if err != nil {
		return // store error: abort this cycle, retry on the next one
	}
	if pcc == nil {
		return // no PCC reading yet: stay BOOTSTRAPPING
	}
	r.Breaker.OnSuccess(breakerKey)

	if r.state == StateBootstrapping {
		r.lastCmdKW = pcc.SumActivePowerKW
		r.state = StateSteady
	} else if r.state == StateSuppressed {
		r.state = StateSteady
	}

	targetKW := inbox.SumSetpointKW
	errKW := targetKW - pcc.SumActivePowerKW
	if math.Abs(errKW) < r.Params.DeadbandKW {
		return
	}

	switch r.Plant.PlantType {
	case site.PlantPVESS:
		r.controlPVESS(ctx, errKW, targetKW)
	case site.PlantPVOnly:
		r.controlPVOnly(ctx, errKW)
	}
}

func (r *Regulator) controlPVESS(ctx context.Context, errKW, targetKW float64) {
	ess, ok := r.ESS()
	if !ok {
		return
	}
	essRow, err := r.Store.LatestESSTelemetry(ctx, r.Plant.PlantID)
	if err != nil || essRow == nil {
		return
	}

	if essCompatible(errKW, essRow.AvailableChargeKWh, essRow.AvailableDischargeKWh) {
		if time.Since(r.lastWriteTS) < r.Params.MinWriteInterval {
			return
		}
		newCmd := nextESSCommand(r.lastCmdKW, r.Params.KP, errKW)
		pd, err := r.Catalog.Point(ess.Vendor, registermap.ClassESS, "activePowerAdjustment")
		if err != nil {
			r.Logger.Printf("control: pod %s: %v", r.Plant.PodID, err)
			return
		}
		if err := r.Bus.WritePoint(ctx, ess.Endpoint, pd, newCmd); err != nil {
			r.Breaker.OnFailure("ess:" + r.Plant.PodID)
			r.Logger.Printf("control: pod %s: ess write: %v", r.Plant.PodID, err)
			return
		}
		r.lastCmdKW = newCmd
		r.lastWriteTS = time.Now()
		return
	}

	if errKW < 0 {
		r.applyPVLimit(ctx, targetKW)
	}
}

func (r *Regulator) controlPVOnly(ctx context.Context, errKW float64) {
	newLimit, saturated := nextPVLimit(r.lastCmdKW, r.Params.KP, errKW, r.Plant.NormalPowerKW)
	if saturated {
		r.Logger.Printf("control: pod %s: PV limit saturated at rated power %.1f kW", r.Plant.PodID, r.Plant.NormalPowerKW)
	}
	r.applyPVLimit(ctx, newLimit)
	r.lastCmdKW = newLimit
}

// applyPVLimit skips the write entirely outside daylight hours: curtailing
// an inverter producing nothing cannot change observed output and would
// only churn the field bus.
func (r *Regulator) applyPVLimit(ctx context.Context, valueKW float64) {
	sky := sun.At(time.Now(), r.Plant.Latitude, r.Plant.Longitude)
	if !sky.IsDaylight {
		return
	}
	actuator, err := ActuatorFor(r.Plant.Vendor)
	if err != nil {
		r.Logger.Printf("control: pod %s: %v", r.Plant.PodID, err)
		return
	}
	if err := actuator.ApplyPVLimit(ctx, r.Bus, r.Catalog, r.Plant.Endpoint, valueKW, r.Plant.NormalPowerKW); err != nil {
		r.Breaker.OnFailure("plant:" + r.Plant.PodID)
		r.Logger.Printf("control: pod %s: PV limit write: %v", r.Plant.PodID, err)
	}
}
