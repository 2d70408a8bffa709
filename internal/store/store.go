package store

import (
	"time"

	"nuha.dev/geolog/internal/device"
)

// LocationSink receives every fix accepted into the durable log. Sinks are
// best-effort mirrors: a sink failure never affects the primary log path.
type LocationSink interface {
	Put(id device.ID, lat float64, lng float64, t time.Time)
}
