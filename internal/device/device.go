package device

import (
	"strconv"
	"strings"
	"time"

	"github.com/phuslu/log"
)

// ID is the canonical form of a device hardware address. Raw addresses that
// only differ in case or separator style canonicalize to the same ID, and the
// ID is used as the key everywhere: cache, sublist, segment filenames.
type ID string

func Canonical(raw string) ID {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.Map(func(r rune) rune {
		switch r {
		case ':', '.', ' ':
			return '-'
		default:
			return r
		}
	}, s)
	return ID(s)
}

func (id ID) String() string {
	return string(id)
}

// Fix is one reported position. Immutable once constructed.
type Fix struct {
	DeviceID ID
	Lat      float64
	Lng      float64
	Time     time.Time
	Logging  bool
}

func (f Fix) MarshalObject(e *log.Entry) {
	e.Str("mac", string(f.DeviceID)).Float64("lat", f.Lat).Float64("lng", f.Lng).Time("ts", f.Time)
}

// Day returns the UTC calendar day a segment key is derived from.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
