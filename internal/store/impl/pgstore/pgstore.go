package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/geolog/internal/device"
)

// Store mirrors accepted fixes into a Postgres table. Writes are buffered
// and flushed with CopyFrom, either when the buffer fills or when the oldest
// buffered record exceeds MaxAgeFlush.
type Store struct {
	config *StoreConfig
	cond   *sync.Cond
	wlock  *sync.Mutex
	rbuf   buffer
	wbuf   buffer
	dbc    *pgxpool.Conn
	dbp    *pgxpool.Pool
	log    log.Logger
	table  string
}

type StoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type buffer struct {
	seq uint64
	t1  time.Time
	buf []record
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]record, 0, len)}
}

type record struct {
	mac string
	lat float64
	lng float64
	t   time.Time
}

func NewStore(db *pgxpool.Pool, table string, config *StoreConfig) *Store {
	o := &Store{}
	o.config = config
	o.table = table
	o.dbp = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	o.wbuf = new_buffer(0, o.config.BufSize)
	o.wlock = &sync.Mutex{}
	o.cond = sync.NewCond(&sync.Mutex{})
	return o
}

func (st *Store) Run() {
	var err error
	st.dbc, err = st.dbp.Acquire(context.Background())
	if err != nil {
		st.log.Error().Err(err).Msg("unable to acquire archive connection")
		return
	}
	go st.timer_flusher()
	go st.handle()
}

func (st *Store) timer_flusher() {
	ticker := time.NewTicker(st.config.TickerDur)
	for t := range ticker.C {
		st.wlock.Lock()
		if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) > st.config.MaxAgeFlush {
			st.flush()
		}
		st.wlock.Unlock()
	}
}

func (st *Store) Put(id device.ID, lat float64, lng float64, t time.Time) {
	rec := record{mac: string(id), lat: lat, lng: lng, t: t}
	st.wlock.Lock()
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = time.Now().UTC()
	}
	st.wbuf.buf = append(st.wbuf.buf, rec)
	if len(st.wbuf.buf) == st.config.BufSize {
		st.flush()
	}
	st.wlock.Unlock()
}

func (st *Store) flush() {
	next := st.wbuf.seq + 1
	st.cond.L.Lock()
	st.rbuf = st.wbuf
	st.cond.L.Unlock()
	st.cond.Signal()
	st.wbuf = new_buffer(next, st.config.BufSize)
}

func (st *Store) handle() {
	var err error
	st.log.Info().Msg("starting flusher task")
	for {
		st.cond.L.Lock()
		st.cond.Wait()
		buf := st.rbuf
		st.cond.L.Unlock()
		t1 := time.Now()
		_, err = st.dbc.CopyFrom(context.Background(),
			pgx.Identifier{st.table},
			[]string{"mac", "latitude", "longitude", "gps_time"},
			pgx.CopyFromSlice(len(buf.buf), func(i int) ([]interface{}, error) {
				d := buf.buf[i]
				return []interface{}{d.mac, d.lat, d.lng, d.t}, nil
			}))
		if err != nil {
			st.log.Error().Err(err).Msg("flush error")
		} else {
			st.log.Debug().Str("action", "flush").Int("length", len(buf.buf)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
		}
	}
}
