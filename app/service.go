// Package app wires the scheduler, dispatcher and their adapters into a
// runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/luminet/dimmerd/api/attempts"
	"github.com/luminet/dimmerd/config"
	"github.com/luminet/dimmerd/core/astro"
	"github.com/luminet/dimmerd/core/dispatch"
	"github.com/luminet/dimmerd/core/dispatch/logging"
	"github.com/luminet/dimmerd/core/events"
	coremetrics "github.com/luminet/dimmerd/core/metrics"
	"github.com/luminet/dimmerd/core/profile"
	"github.com/luminet/dimmerd/core/schedule"
	"github.com/luminet/dimmerd/core/scheduler"
	corestore "github.com/luminet/dimmerd/core/store"
	"github.com/luminet/dimmerd/infra/chirpstack"
	"github.com/luminet/dimmerd/infra/logger"
	"github.com/luminet/dimmerd/infra/metrics"
	infrastore "github.com/luminet/dimmerd/infra/store"
	"github.com/luminet/dimmerd/internal/eventbus"
)

// Service orchestrates the clock loop, the dispatch queue and the adapters
// around them.
type Service struct {
	cfg *config.Config
	log logger.Logger

	attemptLog *logging.SQLiteStore
	extStore   *infrastore.SQLiteStore
	client     *chirpstack.Client
	txack      *chirpstack.TxAckListener
	bus        *eventbus.Bus[events.Event]
	poller     *corestore.Poller
	queue      *dispatch.Queue
	loop       *scheduler.Loop
	index      *schedule.Index
	cron       *cron.Cron
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("service")

	attemptLog, err := logging.NewSQLiteStore(cfg.AttemptLog.Path)
	if err != nil {
		return nil, fmt.Errorf("attempt log: %w", err)
	}
	extStore, err := infrastore.NewSQLiteStore(cfg.Store.Database(), logger.New("store"))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics))
	}
	var sink coremetrics.MetricsSink
	switch len(sinks) {
	case 0:
		sink = coremetrics.NopSink{}
	case 1:
		sink = sinks[0]
	default:
		sink = metrics.NewMultiSink(sinks...)
	}

	client, err := chirpstack.NewClient(cfg.ChirpStack, logger.New("chirpstack"))
	if err != nil {
		if cerr := attemptLog.Close(); cerr != nil {
			log.Errorf("closing attempt log: %v", cerr)
		}
		return nil, err
	}
	var txack *chirpstack.TxAckListener
	if cfg.ChirpStack.Events.Enabled() {
		txack, err = chirpstack.StartTxAckListener(cfg.ChirpStack.Events, client.Acks(), logger.New("txack"))
		if err != nil {
			return nil, fmt.Errorf("txack listener: %w", err)
		}
	}

	tz, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}

	bus := eventbus.New[events.Event]()
	dispatcher := dispatch.NewDispatcher(cfg.Dispatch, client, attemptLog, sink, bus, logger.New("dispatcher"))
	queue := dispatch.NewQueue(dispatcher, logger.New("queue"))

	var outage coremetrics.StoreOutageRecorder
	if o, ok := sink.(coremetrics.StoreOutageRecorder); ok {
		outage = o
	}
	poller := corestore.NewPoller(extStore, cfg.Store.Poller, outage, bus, logger.New("poller"))

	var occupancy coremetrics.OccupancyRecorder
	if o, ok := sink.(coremetrics.OccupancyRecorder); ok {
		occupancy = o
	}
	index := schedule.New()
	compiler := profile.New(astro.NewResolver(), tz, logger.New("compiler"))
	loop := scheduler.NewLoop(cfg.Scheduler, scheduler.Params{
		Index:    index,
		Compiler: compiler,
		Source:   poller,
		Queue:    queue,
		Recorder: dispatcher,
		Marks:    attemptLog,
		Metrics:  occupancy,
		Bus:      bus,
		Log:      logger.New("scheduler"),
	})

	c := cron.New(cron.WithLocation(tz))
	// Midday sits between lighting days, so the horizon slides while
	// nothing is close to firing.
	if _, err := c.AddFunc("0 12 * * *", loop.Rebuild); err != nil {
		return nil, fmt.Errorf("rollover job: %w", err)
	}

	return &Service{
		cfg:        cfg,
		log:        log,
		attemptLog: attemptLog,
		extStore:   extStore,
		client:     client,
		txack:      txack,
		bus:        bus,
		poller:     poller,
		queue:      queue,
		loop:       loop,
		index:      index,
		cron:       c,
	}, nil
}

// Run starts the service and blocks until the context is cancelled. Queued
// work is drained before it returns.
func (s *Service) Run(ctx context.Context) error {
	if err := s.poller.Sync(ctx); err != nil {
		// An unreachable store at boot is not fatal; the schedule fills in
		// once a poll succeeds.
		s.log.Errorf("initial store load failed, starting empty: %v", err)
	}
	if err := s.loop.Load(ctx); err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}

	s.queue.Start(ctx)
	go s.poller.Run(ctx)
	go s.loop.Run(ctx)
	if s.cfg.Store.Watch {
		go func() {
			if err := infrastore.Watch(ctx, s.cfg.Store.Path, s.poller, logger.New("watch")); err != nil {
				s.log.Errorf("store watch: %v", err)
			}
		}()
	}
	s.cron.Start()
	defer s.cron.Stop()

	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go s.serveAPI(ctx)

	<-ctx.Done()
	s.queue.Wait()
	return nil
}

func (s *Service) serveAPI(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/api/dispatch/attempts", attempts.NewAttemptHandler(s.attemptLog, s.cfg.API.Token))
	mux.Handle("/api/dispatch/attempts/latest", attempts.NewLatestHandler(s.attemptLog, s.cfg.API.Token))
	mux.Handle("/api/schedule", attempts.NewScheduleHandler(s.index, s.cfg.API.Token))

	srv := &http.Server{Addr: s.cfg.API.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Errorf("api server: %v", err)
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.txack != nil {
		s.txack.Close()
	}
	var errs []error
	if err := s.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.extStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.attemptLog.Close(); err != nil {
		errs = append(errs, err)
	}
	s.bus.Close()
	return errors.Join(errs...)
}
