package reporter

import "time"

// Measurement is one (name, value, timestamp) point in a POD report,
// matching §4.6's wire shape exactly.
type Measurement struct {
	Measurement string   `json:"measurement"`
	MeasuredAt  string   `json:"measuredAt"`
	Value       *float64 `json:"value"`
	Quality     int      `json:"quality"`
}

// PODReport is one element of the upstream request array.
type PODReport struct {
	Pod    string        `json:"pod"`
	Values []Measurement `json:"values"`
}

// ControlReply is one element of the "controls" array in the 200 response.
type ControlReply struct {
	Pod                string  `json:"pod"`
	Heartbeat          int64   `json:"heartbeat"`
	SumSetPoint        float64 `json:"sumSetPoint"`
	ScheduledReference float64 `json:"scheduledReference"`
	UseSetPoint        int     `json:"useSetPoint"`
}

// ControlResponse is the full decoded 200 response body.
type ControlResponse struct {
	Controls []ControlReply `json:"controls"`
}

func formatMeasuredAt(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func val(v float64) *float64 { return &v }
