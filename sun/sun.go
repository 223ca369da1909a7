// Package sun narrows the teacher's solar-position usage (scheduler/mpc.go's
// suncalc.GetTimes/GetPosition solar-forecast input, scheduler/server.go's
// SunInfo) down to the one calculation this domain still needs: whether a
// plant is in daylight right now, so the control executor can skip a
// PV-limit write that couldn't change anything.
package sun

import (
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

// Window reports the daylight state for a location at time t.
type Window struct {
	IsDaylight       bool
	SolarAltitudeDeg float64
}

// At computes the daylight window for (lat, lon) at time t.
func At(t time.Time, lat, lon float64) Window {
	pos := suncalc.GetPosition(t, lat, lon)
	altDeg := pos.Altitude * 180 / math.Pi
	return Window{
		IsDaylight:       altDeg > 0,
		SolarAltitudeDeg: altDeg,
	}
}
