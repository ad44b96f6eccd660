package cli

import (
	"log/slog"

	"github.com/roach88/pantry/internal/config"
	"github.com/roach88/pantry/internal/connectivity"
	"github.com/roach88/pantry/internal/intercept"
	"github.com/roach88/pantry/internal/message"
	"github.com/roach88/pantry/internal/queue"
	"github.com/roach88/pantry/internal/schedule"
	"github.com/roach88/pantry/internal/store"
	"github.com/roach88/pantry/internal/strategy"
	"github.com/roach88/pantry/internal/syncer"
	transport "github.com/roach88/pantry/internal/transport/http"
	"github.com/roach88/pantry/internal/upstream"
)

const brokerBuffer = 16

// sidecar is the fully wired engine behind `pantry serve`.
type sidecar struct {
	queue   *queue.Queue
	syncer  *syncer.Coordinator
	broker  *message.Broker
	handler *intercept.Handler
	prober  *connectivity.Prober
	server  *transport.Server
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func newClient(cfg *config.Config) (*upstream.Client, error) {
	client, err := upstream.NewClient(cfg.Upstream, nil, cfg.NetworkTimeout)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid upstream", err)
	}
	return client, nil
}

// newSidecar wires every component around an open store. Background work
// (revalidation, reconnect sync, probing) runs on sched.
func newSidecar(cfg *config.Config, st *store.Store, sched schedule.Scheduler, logger *slog.Logger) (*sidecar, error) {
	if logger == nil {
		logger = slog.Default()
	}
	table, err := cfg.StrategyTable()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load strategy table", err)
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	broker := message.NewBroker(brokerBuffer, logger)
	engine := strategy.NewEngine(st, client, sched, strategy.WithLogger(logger))
	q := queue.New(st, queue.WithLogger(logger))
	coord := syncer.New(q, client, syncer.WithPublisher(broker), syncer.WithLogger(logger))
	mon := connectivity.NewMonitor(sched,
		connectivity.WithSyncer(coord),
		connectivity.WithPending(q.Len),
		connectivity.WithCached(st.CountResponses),
		connectivity.WithPublisher(broker),
		connectivity.WithLogger(logger),
	)
	h, err := intercept.New(engine, table, q, client, mon, intercept.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build interceptor", err)
	}

	srv := transport.New(transport.Deps{
		Monitor:        mon,
		Syncer:         coord,
		Queue:          q,
		Precacher:      h,
		Broker:         broker,
		Interceptor:    h,
		CriticalAssets: cfg.CriticalAssets,
		Logger:         logger,
	})

	return &sidecar{
		queue:   q,
		syncer:  coord,
		broker:  broker,
		handler: h,
		prober:  connectivity.NewProber(client, cfg.Probe.Path, mon, logger),
		server:  srv,
	}, nil
}
