// Package esspoll is the ESS poller (C6): same cadence/fan-out/breaker
// shape as meterpoll, reading the canonical Hithium telemetry set and
// deriving the battery/container temperature triples and available
// charge/discharge capacity, replacing
// original_source/poll_ess_hithium.py's hardcoded register-address loops
// with descriptor lookups (calculate_capacity's floor-at-zero formula is
// kept exactly).
package esspoll

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devskill-org/alteo-site-controller/breaker"
	"github.com/devskill-org/alteo-site-controller/fieldbus"
	"github.com/devskill-org/alteo-site-controller/registermap"
	"github.com/devskill-org/alteo-site-controller/site"
	"github.com/devskill-org/alteo-site-controller/store"
)

// ESSSource supplies the roster of active ESS units for each cycle.
type ESSSource interface {
	ActiveESSUnits() []site.ESSUnit
}

// Poller runs the cadenced ESS telemetry poll.
type Poller struct {
	Catalog     *registermap.Catalog
	Bus         *fieldbus.Client
	Breaker     *breaker.Breaker
	Store       *store.Gateway
	Units       ESSSource
	MaxParallel int
	Logger      *log.Logger
	OnRow       func(site.ESSTelemetryRow)
}

var containerPoints = [5]string{"containerTemp1", "containerTemp2", "containerTemp3", "containerTemp4", "containerTemp5"}

// Tick performs one poll cycle across every active, breaker-clear ESS unit.
func (p *Poller) Tick(ctx context.Context) {
	units := p.Units.ActiveESSUnits()
	if len(units) == 0 {
		return
	}

	var (
		mu   sync.Mutex
		rows []site.ESSTelemetryRow
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.MaxParallel)

	for _, unit := range units {
		unit := unit
		key := "ess:" + unitKey(unit.ESSID)
		if p.Breaker.ShouldSkip(key) {
			continue
		}
		g.Go(func() error {
			row, err := p.pollOne(gctx, unit)
			if err != nil {
				p.Breaker.OnFailure(key)
				p.Logger.Printf("esspoll: ess %d: %v", unit.ESSID, err)
				return nil
			}
			p.Breaker.OnSuccess(key)
			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
			if p.OnRow != nil {
				p.OnRow(row)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(rows) == 0 {
		return
	}
	if err := p.Store.InsertESSTelemetryBatch(ctx, rows); err != nil {
		p.Logger.Printf("esspoll: batch insert: %v", err)
	}
}

func (p *Poller) pollOne(ctx context.Context, unit site.ESSUnit) (site.ESSTelemetryRow, error) {
	point := func(name string) (float64, error) {
		pd, err := p.Catalog.Point(unit.Vendor, registermap.ClassESS, name)
		if err != nil {
			return 0, err
		}
		return p.Bus.ReadPoint(ctx, unit.Endpoint, pd)
	}

	soc, err := point("soc")
	if err != nil {
		return site.ESSTelemetryRow{}, err
	}
	totalCapacity, err := point("totalCapacity")
	if err != nil {
		return site.ESSTelemetryRow{}, err
	}
	cellMin, err := point("cellTempMin")
	if err != nil {
		return site.ESSTelemetryRow{}, err
	}
	cellAvg, err := point("cellTempAvg")
	if err != nil {
		return site.ESSTelemetryRow{}, err
	}
	cellMax, err := point("cellTempMax")
	if err != nil {
		return site.ESSTelemetryRow{}, err
	}

	var containerSum, containerMin, containerMax float64
	for i, name := range containerPoints {
		v, err := point(name)
		if err != nil {
			return site.ESSTelemetryRow{}, err
		}
		containerSum += v
		if i == 0 || v < containerMin {
			containerMin = v
		}
		if i == 0 || v > containerMax {
			containerMax = v
		}
	}
	containerAvg := containerSum / float64(len(containerPoints))

	minSOC, maxSOC := 0.0, 100.0
	if v, err := point("allowedMinSOC"); err == nil {
		minSOC = v
	}
	if v, err := point("allowedMaxSOC"); err == nil {
		maxSOC = v
	}

	availCharge := calculateCapacity(totalCapacity, maxSOC-soc)
	availDischarge := calculateCapacity(totalCapacity, soc-minSOC)

	return site.ESSTelemetryRow{
		PlantID:                 unit.PlantID,
		MeasuredAt:              time.Now().UTC().Truncate(time.Second),
		AverageBatteryCellTempC: cellAvg,
		MinBatteryCellTempC:     cellMin,
		MaxBatteryCellTempC:     cellMax,
		AverageContainerTempC:   containerAvg,
		MinContainerTempC:       containerMin,
		MaxContainerTempC:       containerMax,
		CurrentSOC:              soc,
		AllowedMinSOC:           minSOC,
		AllowedMaxSOC:           maxSOC,
		AvailableChargeKWh:      availCharge,
		AvailableDischargeKWh:   availDischarge,
	}, nil
}

// calculateCapacity mirrors poll_ess_hithium.py's calculate_capacity:
// total_kwh * socSpanPct/100, floored at 0.
func calculateCapacity(totalKWh, socSpanPct float64) float64 {
	v := totalKWh * socSpanPct / 100.0
	if v < 0 {
		return 0
	}
	return v
}

func unitKey(essID int64) string {
	return strconv.FormatInt(essID, 10)
}
