package query

import (
	"errors"
	"time"

	"nuha.dev/geolog/internal/device"
	"nuha.dev/geolog/internal/livecache"
	"nuha.dev/geolog/internal/seglog"
)

var ErrBadDay = errors.New("day must be YYYY-MM-DD")

// Service answers latest-position and history reads. It never writes.
type Service struct {
	cache  *livecache.Cache
	seglog *seglog.Manager
}

func NewService(cache *livecache.Cache, seglog *seglog.Manager) *Service {
	return &Service{cache: cache, seglog: seglog}
}

// Latest returns the cached fix for the raw identifier, canonicalized first.
// Absence is not an error.
func (s *Service) Latest(raw string) (device.Fix, bool) {
	return s.cache.Get(device.Canonical(raw))
}

// History returns the day's logged fixes oldest first, empty when nothing
// was logged for that key.
func (s *Service) History(raw string, day string) ([]device.Fix, error) {
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return nil, ErrBadDay
	}
	return s.seglog.ReadDay(device.Canonical(raw), day)
}
