package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/geolog/internal/buslistener"
	"nuha.dev/geolog/internal/config"
	"nuha.dev/geolog/internal/filter"
	"nuha.dev/geolog/internal/ingest"
	"nuha.dev/geolog/internal/livecache"
	"nuha.dev/geolog/internal/query"
	"nuha.dev/geolog/internal/routes"
	"nuha.dev/geolog/internal/seglog"
	"nuha.dev/geolog/internal/store/impl/pgstore"
	"nuha.dev/geolog/internal/sublist"
	"nuha.dev/geolog/internal/webapp"
	"nuha.dev/geolog/internal/webstream"
)

func main() {
	cfg := config.Load()
	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "main").Value()

	segman, err := seglog.NewManager(&seglog.Config{Dir: cfg.LogDir, MaxPoints: cfg.MaxPointsPerFile})
	if err != nil {
		panic(err.Error())
	}
	routeStore, err := routes.NewStore(cfg.RoutesDir)
	if err != nil {
		panic(err.Error())
	}

	cache := livecache.New()
	subs := sublist.NewSublistMap()
	pipeline := ingest.NewPipeline(filter.New(cfg.SignificanceThresholdDeg), segman, cache, subs)

	if cfg.ArchiveEnabled {
		pool, err := pgxpool.Connect(context.Background(), cfg.DBUrl)
		if err != nil {
			panic(err.Error())
		}
		archive := pgstore.NewStore(pool, cfg.ArchiveTable, &pgstore.StoreConfig{
			BufSize:     cfg.ArchiveBufSize,
			TickerDur:   time.Second,
			MaxAgeFlush: cfg.ArchiveFlushInterval,
		})
		archive.Run()
		pipeline.SetArchive(archive)
	}

	listener, err := buslistener.NewListener(cfg.NatsURL, cfg.NatsTopic, pipeline)
	if err != nil {
		logger.Error().Err(err).Msg("bus unavailable, running without subscription listener")
	} else {
		err = listener.Run()
		if err != nil {
			panic(err.Error())
		}
	}

	qs := query.NewService(cache, segman)
	api := webapp.NewApi(pipeline, qs, routeStore, webstream.NewServer(subs))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	api.Mount(r)

	s1 := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	logger.Info().Str("addr", cfg.HTTPAddr).Msg("starting http server")
	err = s1.ListenAndServe()
	if err != nil {
		panic(err.Error())
	}
}
