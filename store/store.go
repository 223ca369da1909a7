// Package store is the typed Postgres gateway, grounded on
// scheduler/mpc_persistence.go's transaction/prepared-statement/upsert
// shape and original_source/sender.py's query shapes, generalised from one
// MPC-decisions table to the plant/ESS/inbox/send-log schema this domain
// owns.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	_ "github.com/lib/pq"

	"github.com/devskill-org/alteo-site-controller/site"
)

// Gateway wraps a pooled *sql.DB. Every method acquires and releases its
// connection through the pool and honours the passed context, so a caller
// cancelling mid-query frees the connection rather than leaking it.
type Gateway struct {
	db *sql.DB
}

// Open connects to Postgres via lib/pq, the teacher's own driver.
func Open(connString string) (*Gateway, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Gateway{db: db}, nil
}

// Close releases the underlying pool.
func (g *Gateway) Close() error { return g.db.Close() }

// LoadPlants returns every plant row, active or not; callers filter by
// ControlEnabled as needed.
func (g *Gateway) LoadPlants(ctx context.Context) ([]site.Plant, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT plant_id, pod_id, ip, port, slave_id, vendor, plant_type,
		       normal_power_kw, control_enabled, latitude, longitude
		FROM plants`)
	if err != nil {
		return nil, fmt.Errorf("store: load plants: %w", err)
	}
	defer rows.Close()

	var out []site.Plant
	for rows.Next() {
		var p site.Plant
		var slave int
		var vendor, plantType string
		if err := rows.Scan(&p.PlantID, &p.PodID, &p.Endpoint.Host, &p.Endpoint.Port,
			&slave, &vendor, &plantType, &p.NormalPowerKW, &p.ControlEnabled,
			&p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("store: scan plant: %w", err)
		}
		p.Endpoint.Slave = byte(slave)
		p.Vendor = site.Vendor(vendor)
		p.PlantType = site.PlantType(plantType)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadESSUnits returns every ESS unit row.
func (g *Gateway) LoadESSUnits(ctx context.Context) ([]site.ESSUnit, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT ess_id, plant_id, ip, port, slave_id, vendor, active
		FROM ess_units`)
	if err != nil {
		return nil, fmt.Errorf("store: load ess units: %w", err)
	}
	defer rows.Close()

	var out []site.ESSUnit
	for rows.Next() {
		var e site.ESSUnit
		var slave int
		var vendor string
		if err := rows.Scan(&e.ESSID, &e.PlantID, &e.Endpoint.Host, &e.Endpoint.Port,
			&slave, &vendor, &e.Active); err != nil {
			return nil, fmt.Errorf("store: scan ess unit: %w", err)
		}
		e.Endpoint.Slave = byte(slave)
		e.Vendor = site.Vendor(vendor)
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertPCCTelemetryBatch writes every row inside one transaction,
// ignoring conflicts on the (plant_id, measured_at) unique key, mirroring
// saveMPCDecisions's BeginTx/prepared-statement/Commit shape.
func (g *Gateway) InsertPCCTelemetryBatch(ctx context.Context, rows []site.PCCTelemetryRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO plant_data_term1
			(plant_id, measured_at, sum_active_power, cos_phi,
			 available_power_min, available_power_max, reference_power, ghi, panel_temp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (plant_id, measured_at) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("store: prepare pcc insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.PlantID, r.MeasuredAt, r.SumActivePowerKW, r.CosPhi,
			r.AvailablePowerMin, r.AvailablePowerMax, r.ReferencePowerKW, r.GHI, r.PanelTempC); err != nil {
			return fmt.Errorf("store: insert pcc row plant=%d: %w", r.PlantID, err)
		}
	}
	return tx.Commit()
}

// InsertESSTelemetryBatch mirrors InsertPCCTelemetryBatch for ESS rows.
func (g *Gateway) InsertESSTelemetryBatch(ctx context.Context, rows []site.ESSTelemetryRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ess_data_term1
			(plant_id, measured_at, avg_cell_temp, min_cell_temp, max_cell_temp,
			 avg_container_temp, min_container_temp, max_container_temp,
			 current_soc, allowed_min_soc, allowed_max_soc,
			 available_charge_kwh, available_discharge_kwh)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (plant_id, measured_at) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("store: prepare ess insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.PlantID, r.MeasuredAt,
			r.AverageBatteryCellTempC, r.MinBatteryCellTempC, r.MaxBatteryCellTempC,
			r.AverageContainerTempC, r.MinContainerTempC, r.MaxContainerTempC,
			r.CurrentSOC, r.AllowedMinSOC, r.AllowedMaxSOC,
			r.AvailableChargeKWh, r.AvailableDischargeKWh); err != nil {
			return fmt.Errorf("store: insert ess row plant=%d: %w", r.PlantID, err)
		}
	}
	return tx.Commit()
}

// LatestPCCTelemetry returns the most recent PCC row for plantID, or nil
// if none exists yet (data-absence, handled by callers per §7.3).
func (g *Gateway) LatestPCCTelemetry(ctx context.Context, plantID int64) (*site.PCCTelemetryRow, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT plant_id, measured_at, sum_active_power, cos_phi,
		       available_power_min, available_power_max, reference_power, ghi, panel_temp
		FROM plant_data_term1
		WHERE plant_id = $1
		ORDER BY measured_at DESC
		LIMIT 1`, plantID)

	var r site.PCCTelemetryRow
	if err := row.Scan(&r.PlantID, &r.MeasuredAt, &r.SumActivePowerKW, &r.CosPhi,
		&r.AvailablePowerMin, &r.AvailablePowerMax, &r.ReferencePowerKW, &r.GHI, &r.PanelTempC); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: latest pcc telemetry plant=%d: %w", plantID, err)
	}
	return &r, nil
}

// LatestESSTelemetry returns the most recent ESS row for plantID.
func (g *Gateway) LatestESSTelemetry(ctx context.Context, plantID int64) (*site.ESSTelemetryRow, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT plant_id, measured_at, avg_cell_temp, min_cell_temp, max_cell_temp,
		       avg_container_temp, min_container_temp, max_container_temp,
		       current_soc, allowed_min_soc, allowed_max_soc,
		       available_charge_kwh, available_discharge_kwh
		FROM ess_data_term1
		WHERE plant_id = $1
		ORDER BY measured_at DESC
		LIMIT 1`, plantID)

	var r site.ESSTelemetryRow
	if err := row.Scan(&r.PlantID, &r.MeasuredAt, &r.AverageBatteryCellTempC, &r.MinBatteryCellTempC, &r.MaxBatteryCellTempC,
		&r.AverageContainerTempC, &r.MinContainerTempC, &r.MaxContainerTempC,
		&r.CurrentSOC, &r.AllowedMinSOC, &r.AllowedMaxSOC,
		&r.AvailableChargeKWh, &r.AvailableDischargeKWh); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: latest ess telemetry plant=%d: %w", plantID, err)
	}
	return &r, nil
}

// LatestEnvironmentAggregate returns the average, minimum and maximum of a
// plant's environment-sensor readings over the most recent window (the
// reporter passes 5 minutes), per §4.6's environment
// measurement keys and Open Question (b) (the window is implemented
// literally as specified).
func (g *Gateway) LatestEnvironmentAggregate(ctx context.Context, plantID int64, window time.Duration) (avg, min, max float64, ok bool, err error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT AVG(ambient_temp), MIN(ambient_temp), MAX(ambient_temp)
		FROM environment_data_term1 e
		JOIN plant_environment_sensors pes ON pes.sensor_id = e.sensor_id
		WHERE pes.plant_id = $1 AND e.measured_at >= $2`,
		plantID, time.Now().Add(-window))

	var a, mn, mx sql.NullFloat64
	if scanErr := row.Scan(&a, &mn, &mx); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, 0, 0, false, nil
		}
		return 0, 0, 0, false, fmt.Errorf("store: environment aggregate plant=%d: %w", plantID, scanErr)
	}
	if !a.Valid {
		return 0, 0, 0, false, nil
	}
	return a.Float64, mn.Float64, mx.Float64, true, nil
}

// UpsertInbox applies the monotonic-heartbeat rule directly in the WHERE
// clause of the DO UPDATE, so the read-modify-write race present in a
// naive "read then compare then write" translation of sender.py's
// update_heartbeat_inbox cannot occur.
func (g *Gateway) UpsertInbox(ctx context.Context, row site.InboxRow) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO alteo_controls_inbox
			(pod, heartbeat, sum_setpoint, scheduled_reference, use_setpoint, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pod) DO UPDATE SET
			heartbeat = EXCLUDED.heartbeat,
			sum_setpoint = EXCLUDED.sum_setpoint,
			scheduled_reference = EXCLUDED.scheduled_reference,
			use_setpoint = EXCLUDED.use_setpoint,
			received_at = EXCLUDED.received_at
		WHERE alteo_controls_inbox.heartbeat < EXCLUDED.heartbeat`,
		row.Pod, row.Heartbeat, row.SumSetpointKW, row.ScheduledRefKW, row.UseSetpoint, row.ReceivedAt)
	if err != nil {
		return fmt.Errorf("store: upsert inbox pod=%s: %w", row.Pod, err)
	}
	return nil
}

// LatestInbox returns the stored inbox row for pod, or nil if the POD has
// never received a control reply.
func (g *Gateway) LatestInbox(ctx context.Context, pod string) (*site.InboxRow, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT pod, heartbeat, sum_setpoint, scheduled_reference, use_setpoint, received_at
		FROM alteo_controls_inbox WHERE pod = $1`, pod)

	var r site.InboxRow
	if err := row.Scan(&r.Pod, &r.Heartbeat, &r.SumSetpointKW, &r.ScheduledRefKW, &r.UseSetpoint, &r.ReceivedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: latest inbox pod=%s: %w", pod, err)
	}
	return &r, nil
}

// LastHeartbeat returns the most recently observed heartbeat for pod, or 1
// if none has ever been recorded, per §4.6's heartbeatMirrored rule.
func (g *Gateway) LastHeartbeat(ctx context.Context, pod string) (int64, error) {
	row, err := g.LatestInbox(ctx, pod)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 1, nil
	}
	return row.Heartbeat, nil
}

// AppendSendLog records one upstream request/response pair, append-only,
// regardless of outcome, mirroring sender.py's store_alteo_response being
// called on both the success and failure branches.
func (g *Gateway) AppendSendLog(ctx context.Context, row site.SendLogRow) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO alteo_send_log (pod, request_body, response_body, http_status, sent_at)
		VALUES ($1, $2, $3, $4, $5)`,
		row.Pod, row.RequestBody, row.ResponseBody, row.HTTPStatus, row.SentAt)
	if err != nil {
		return fmt.Errorf("store: append send log pod=%s: %w", row.Pod, err)
	}
	return nil
}

// AdvisoryLockKey hashes a POD identifier into the int64 key
// pg_try_advisory_lock expects.
func AdvisoryLockKey(pod string) int64 {
	h := fnv.New64a()
	h.Write([]byte(pod))
	return int64(h.Sum64())
}

// TryAdvisoryLock attempts to acquire a session-level advisory lock keyed
// on pod, as §4.7's cross-process coordination requires before issuing a
// control write. release is always safe to call, satisfying §4.8's
// finally-equivalent release regardless of outcome.
func (g *Gateway) TryAdvisoryLock(ctx context.Context, pod string) (release func(), ok bool, err error) {
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return func() {}, false, fmt.Errorf("store: advisory lock conn: %w", err)
	}

	key := AdvisoryLockKey(pod)
	row := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key)
	var granted bool
	if err := row.Scan(&granted); err != nil {
		conn.Close()
		return func() {}, false, fmt.Errorf("store: pg_try_advisory_lock: %w", err)
	}
	if !granted {
		conn.Close()
		return func() {}, false, nil
	}

	release = func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Close()
	}
	return release, true, nil
}
