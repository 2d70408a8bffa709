package ingest

import (
	"errors"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/geolog/internal/device"
	"nuha.dev/geolog/internal/filter"
	"nuha.dev/geolog/internal/livecache"
	"nuha.dev/geolog/internal/store"
	"nuha.dev/geolog/internal/sublist"
)

const (
	FIX_ACCEPTED    string = "fix_accepted"
	FIX_NOT_LOGGED  string = "fix_not_logged"
	LOG_WRITE_ERROR string = "log_write_error"
)

var ErrMissingDevice = errors.New("missing device identifier")

// Log is the durable per-device history the pipeline writes through.
// Satisfied by *seglog.Manager.
type Log interface {
	Append(fix device.Fix) (string, error)
}

// Submission is one incoming fix from either channel, already decoded to
// numeric coordinates by the transport layer.
type Submission struct {
	Mac       string
	Latitude  float64
	Longitude float64
	Logging   bool
}

// Pipeline validates, normalizes, deduplicates and fans out incoming fixes.
// The significance baseline is the last fix accepted into the log for the
// device, tracked here, deliberately not the live cache: pausing history
// logging must not change what the dedup compares against.
type Pipeline struct {
	filter  filter.Filter
	seglog  Log
	cache   *livecache.Cache
	subs    *sublist.SublistMap
	archive store.LocationSink
	logger  log.Logger

	mu         sync.Mutex
	devlocks   map[device.ID]*sync.Mutex
	lastLogged map[device.ID]device.Fix
}

func NewPipeline(f filter.Filter, lg Log, cache *livecache.Cache, subs *sublist.SublistMap) *Pipeline {
	p := &Pipeline{
		filter:     f,
		seglog:     lg,
		cache:      cache,
		subs:       subs,
		devlocks:   make(map[device.ID]*sync.Mutex),
		lastLogged: make(map[device.ID]device.Fix),
	}
	p.logger = log.DefaultLogger
	p.logger.Context = log.NewContext(nil).Str("module", "ingest").Value()
	return p
}

// SetArchive attaches an optional secondary sink receiving every persisted
// fix. Must be called before the first Submit.
func (p *Pipeline) SetArchive(sink store.LocationSink) {
	p.archive = sink
}

// Submit runs one fix through the pipeline. A nil error means the fix was
// processed; a log-write failure is not an error to the caller, the live
// view degrades gracefully and the failure is recorded as a diagnostic.
func (p *Pipeline) Submit(sub Submission) (device.Fix, error) {
	if sub.Mac == "" {
		return device.Fix{}, ErrMissingDevice
	}
	id := device.Canonical(sub.Mac)
	if id == "" {
		return device.Fix{}, ErrMissingDevice
	}
	now := time.Now().UTC().Truncate(time.Second)
	fix := device.Fix{DeviceID: id, Lat: sub.Latitude, Lng: sub.Longitude, Time: now, Logging: sub.Logging}

	// Per-device section: the significance decision and the append must not
	// interleave between two submissions for the same device.
	dl := p.devlock(id)
	dl.Lock()
	if sub.Logging {
		prev, havePrev := p.last(id)
		var pprev *device.Fix
		if havePrev {
			pprev = &prev
		}
		if p.filter.Significant(fix, pprev) {
			p.setLast(fix)
			path, err := p.seglog.Append(fix)
			if err != nil {
				p.logger.Error().Err(err).Str("event", LOG_WRITE_ERROR).EmbedObject(fix).Msg("append failed, live view continues")
			} else {
				p.logger.Debug().Str("event", FIX_ACCEPTED).Str("segment", path).EmbedObject(fix).Msg("")
				if p.archive != nil {
					p.archive.Put(fix.DeviceID, fix.Lat, fix.Lng, fix.Time)
				}
			}
		} else {
			p.logger.Debug().Str("event", FIX_NOT_LOGGED).EmbedObject(fix).Msg("below significance threshold")
		}
	} else {
		p.logger.Debug().Str("event", FIX_NOT_LOGGED).EmbedObject(fix).Msg("logging disabled for fix")
	}
	dl.Unlock()

	p.cache.Put(fix)
	p.subs.Publish(fix)
	return fix, nil
}

func (p *Pipeline) devlock(id device.ID) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	dl, ok := p.devlocks[id]
	if !ok {
		dl = &sync.Mutex{}
		p.devlocks[id] = dl
	}
	return dl
}

func (p *Pipeline) last(id device.ID) (device.Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fix, ok := p.lastLogged[id]
	return fix, ok
}

func (p *Pipeline) setLast(fix device.Fix) {
	p.mu.Lock()
	p.lastLogged[fix.DeviceID] = fix
	p.mu.Unlock()
}
