// Package site holds the domain model shared by every pipeline: the plant
// and ESS roster, the telemetry rows written by the pollers, and the
// control inbox consumed by the regulator.
package site

import "time"

// Vendor tags the register-map dialect and actuator behaviour of a device.
type Vendor string

const (
	VendorHuawei  Vendor = "huawei"
	VendorFronius Vendor = "fronius"
	VendorHithium Vendor = "hithium"
)

// PlantType distinguishes a PV-only site from one with battery storage.
type PlantType string

const (
	PlantPVOnly PlantType = "PV_ONLY"
	PlantPVESS  PlantType = "PV_ESS"
)

// Endpoint identifies a Modbus-TCP device on the field bus.
type Endpoint struct {
	Host  string
	Port  int
	Slave byte
}

// Plant is a renewable-generation asset controlled through one POD.
type Plant struct {
	PlantID        int64
	PodID          string
	Endpoint       Endpoint
	Vendor         Vendor
	PlantType      PlantType
	NormalPowerKW  float64
	ControlEnabled bool
	Latitude       float64
	Longitude      float64
}

// ESSUnit is a battery-storage container owned by a plant.
type ESSUnit struct {
	ESSID    int64
	PlantID  int64
	Endpoint Endpoint
	Vendor   Vendor
	Active   bool
}

// PCCTelemetryRow is one point-of-common-coupling meter reading.
type PCCTelemetryRow struct {
	PlantID            int64
	MeasuredAt         time.Time
	SumActivePowerKW   float64
	CosPhi             float64
	AvailablePowerMin  float64
	AvailablePowerMax  float64
	ReferencePowerKW   float64
	GHI                *float64
	PanelTempC         *float64
	Daylight           bool
}

// ESSTelemetryRow is one battery-state reading.
type ESSTelemetryRow struct {
	PlantID                   int64
	MeasuredAt                time.Time
	AverageBatteryCellTempC   float64
	MinBatteryCellTempC       float64
	MaxBatteryCellTempC       float64
	AverageContainerTempC     float64
	MinContainerTempC         float64
	MaxContainerTempC         float64
	CurrentSOC                float64
	AllowedMinSOC              float64
	AllowedMaxSOC              float64
	AvailableChargeKWh        float64
	AvailableDischargeKWh     float64
}

// EnvironmentTelemetryRow is one environment-sensor reading, associated
// with a plant through a separate mapping not owned by the core.
type EnvironmentTelemetryRow struct {
	SensorID    int64
	PlantID     int64
	MeasuredAt  time.Time
	AmbientTempC float64
}

// InboxRow is the latest control directive received from upstream for a POD.
type InboxRow struct {
	Pod                string
	Heartbeat          int64
	SumSetpointKW      float64
	ScheduledRefKW     float64
	UseSetpoint        bool
	ReceivedAt         time.Time
}

// SendLogRow is an append-only record of one upstream request/response pair.
type SendLogRow struct {
	Pod          string
	RequestBody  []byte
	ResponseBody []byte
	HTTPStatus   int
	SentAt       time.Time
}
