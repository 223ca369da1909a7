// Package reporter is the upstream reporter (C7): every cycle, one POST
// per POD carrying the latest telemetry plus the mirrored heartbeat,
// applying the response's control reply to the inbox. Grounded on
// entsoe/api_client.go's http.Client + context.WithTimeout + header
// construction and original_source/sender.py's exact payload and
// heartbeat-mirroring semantics.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devskill-org/alteo-site-controller/site"
	"github.com/devskill-org/alteo-site-controller/store"
)

const environmentWindow = 5 * time.Minute

// PlantSource supplies the roster of controlled plants for each cycle.
type PlantSource interface {
	ActivePlants() []site.Plant
}

// Reporter runs the cadenced upstream POST/receive exchange.
type Reporter struct {
	Store       *store.Gateway
	Plants      PlantSource
	HTTPClient  *http.Client
	URL         string
	APIKey      string
	Timeout     time.Duration
	MaxParallel int
	Logger      *log.Logger
}

// Tick performs one reporting cycle: one POST per POD, fanned out with a
// bounded errgroup so a slow or failing POD never blocks the others.
func (r *Reporter) Tick(ctx context.Context) {
	plants := r.Plants.ActivePlants()
	if len(plants) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.MaxParallel)

	for _, plant := range plants {
		plant := plant
		g.Go(func() error {
			r.reportOne(gctx, plant)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Reporter) reportOne(ctx context.Context, plant site.Plant) {
	report, err := r.buildReport(ctx, plant)
	if err != nil {
		r.Logger.Printf("reporter: pod %s: build report: %v", plant.PodID, err)
		return
	}

	reqBody, err := json.Marshal([]PODReport{report})
	if err != nil {
		r.Logger.Printf("reporter: pod %s: marshal request: %v", plant.PodID, err)
		return
	}

	status, respBody, sendErr := r.post(ctx, reqBody)

	logRow := site.SendLogRow{
		Pod:          plant.PodID,
		RequestBody:  reqBody,
		HTTPStatus:   status,
		SentAt:       time.Now().UTC(),
	}

	if sendErr != nil {
		logRow.ResponseBody = []byte(fmt.Sprintf(`{"transport_error": %q}`, sendErr.Error()))
		if err := r.Store.AppendSendLog(ctx, logRow); err != nil {
			r.Logger.Printf("reporter: pod %s: append send log: %v", plant.PodID, err)
		}
		return
	}

	if status == http.StatusOK {
		var parsed ControlResponse
		if err := json.Unmarshal(respBody, &parsed); err == nil && len(parsed.Controls) > 0 {
			logRow.ResponseBody = respBody
			ctrl := parsed.Controls[0]
			row := site.InboxRow{
				Pod:            plant.PodID,
				Heartbeat:      ctrl.Heartbeat,
				SumSetpointKW:  ctrl.SumSetPoint,
				ScheduledRefKW: ctrl.ScheduledReference,
				UseSetpoint:    ctrl.UseSetPoint != 0,
				ReceivedAt:     time.Now().UTC(),
			}
			if err := r.Store.UpsertInbox(ctx, row); err != nil {
				r.Logger.Printf("reporter: pod %s: upsert inbox: %v", plant.PodID, err)
			}
		}
	}

	if json.Valid(respBody) {
		logRow.ResponseBody = respBody
	} else {
		logRow.ResponseBody = []byte(fmt.Sprintf(`{"raw_text": %q}`, string(respBody)))
	}

	if err := r.Store.AppendSendLog(ctx, logRow); err != nil {
		r.Logger.Printf("reporter: pod %s: append send log: %v", plant.PodID, err)
	}
}

func (r *Reporter) buildReport(ctx context.Context, plant site.Plant) (PODReport, error) {
	now := time.Now()
	measuredAt := formatMeasuredAt(now)

	heartbeat, err := r.Store.LastHeartbeat(ctx, plant.PodID)
	if err != nil {
		return PODReport{}, err
	}

	pcc, err := r.Store.LatestPCCTelemetry(ctx, plant.PlantID)
	if err != nil {
		return PODReport{}, err
	}
	if pcc == nil {
		return PODReport{}, fmt.Errorf("no PCC telemetry yet")
	}

	values := []Measurement{
		{Measurement: "heartbeatMirrored", MeasuredAt: measuredAt, Value: val(float64(heartbeat)), Quality: 1},
		{Measurement: "availablePowerMin", MeasuredAt: measuredAt, Value: val(pcc.AvailablePowerMin), Quality: 1},
		{Measurement: "availablePowerMax", MeasuredAt: measuredAt, Value: val(pcc.AvailablePowerMax), Quality: 1},
		{Measurement: "sumActivePower", MeasuredAt: measuredAt, Value: val(pcc.SumActivePowerKW), Quality: 1},
		{Measurement: "cosPhi", MeasuredAt: measuredAt, Value: val(pcc.CosPhi), Quality: 1},
		{Measurement: "referencePower", MeasuredAt: measuredAt, Value: val(pcc.ReferencePowerKW), Quality: 1},
	}

	if plant.PlantType == site.PlantPVESS {
		if ess, err := r.Store.LatestESSTelemetry(ctx, plant.PlantID); err == nil && ess != nil {
			values = append(values,
				Measurement{Measurement: "availableCapacityCharge", MeasuredAt: measuredAt, Value: val(ess.AvailableChargeKWh), Quality: 1},
				Measurement{Measurement: "availableCapacityDischarge", MeasuredAt: measuredAt, Value: val(ess.AvailableDischargeKWh), Quality: 1},
				Measurement{Measurement: "averageBatterycellTemp", MeasuredAt: measuredAt, Value: val(ess.AverageBatteryCellTempC), Quality: 1},
				Measurement{Measurement: "averageBatterycellTempMIN", MeasuredAt: measuredAt, Value: val(ess.MinBatteryCellTempC), Quality: 1},
				Measurement{Measurement: "averageBatterycellTempMAX", MeasuredAt: measuredAt, Value: val(ess.MaxBatteryCellTempC), Quality: 1},
				Measurement{Measurement: "averageContainerInsideTemp", MeasuredAt: measuredAt, Value: val(ess.AverageContainerTempC), Quality: 1},
				Measurement{Measurement: "averageContainerInsideTempMIN", MeasuredAt: measuredAt, Value: val(ess.MinContainerTempC), Quality: 1},
				Measurement{Measurement: "averageContainerInsideTempMAX", MeasuredAt: measuredAt, Value: val(ess.MaxContainerTempC), Quality: 1},
				Measurement{Measurement: "averageCurrentSOC", MeasuredAt: measuredAt, Value: val(ess.CurrentSOC), Quality: 1},
				Measurement{Measurement: "allowedMinSOC", MeasuredAt: measuredAt, Value: val(ess.AllowedMinSOC), Quality: 1},
				Measurement{Measurement: "allowedMaxSOC", MeasuredAt: measuredAt, Value: val(ess.AllowedMaxSOC), Quality: 1},
			)
		}
	}

	if avg, min, max, ok, err := r.Store.LatestEnvironmentAggregate(ctx, plant.PlantID, environmentWindow); err == nil && ok {
		values = append(values,
			Measurement{Measurement: "averageEnvironmentTemp", MeasuredAt: measuredAt, Value: val(avg), Quality: 1},
			Measurement{Measurement: "averageEnvironmentTempMIN", MeasuredAt: measuredAt, Value: val(min), Quality: 1},
			Measurement{Measurement: "averageEnvironmentTempMAX", MeasuredAt: measuredAt, Value: val(max), Quality: 1},
		)
	}

	return PODReport{Pod: plant.PodID, Values: values}, nil
}

func (r *Reporter) post(ctx context.Context, body []byte) (status int, respBody []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("reporter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", r.APIKey)

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("reporter: do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reporter: read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
