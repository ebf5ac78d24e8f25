package flockd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flockd/flockd/internal/config"
	"github.com/flockd/flockd/internal/connmgr"
	"github.com/flockd/flockd/internal/health"
	"github.com/flockd/flockd/internal/logger"
	"github.com/flockd/flockd/internal/metrics"
	"github.com/flockd/flockd/internal/queue"
	"github.com/flockd/flockd/internal/scaler"
	"github.com/flockd/flockd/internal/server"
	"github.com/flockd/flockd/internal/store"
	"github.com/flockd/flockd/internal/store/factory"
	"github.com/flockd/flockd/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type WorkerRecord = supervisor.WorkerRecord

type PoolMetrics = health.PoolMetrics

type Request = connmgr.Request

type Response = connmgr.Response

type Event = store.Event

// Orchestrator owns the worker fleet, its health loop, the autoscaler, the
// outbound connection layer, and the optional ops HTTP API. Construct one
// with New, drive it with Run, and tear it down with Shutdown.
type Orchestrator struct {
	cfg   *config.Config
	sup   *supervisor.Supervisor
	mon   *health.Monitor
	asc   *scaler.AutoScaler
	mgr   *connmgr.Manager
	st    store.Store
	depth *queue.RedisReader
	srv   *http.Server
}

func LoadConfig(path string) (*config.Config, error) { return config.Load(path) }

// New wires the orchestrator from a validated config. The event store and
// ops server are optional; everything else is always constructed.
func New(cfg *config.Config) (*Orchestrator, error) {
	logger.Setup(cfg.Log)

	st, err := factory.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if st != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := st.EnsureSchema(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("ensure event schema: %w", err)
		}
	}

	sup := supervisor.New(cfg.Pool, cfg.Log)
	depth := queue.NewRedisReader(cfg.Queue.RedisAddr)
	mon := health.NewMonitor(sup, health.GopsutilProbe{}, health.GopsutilProbe{}, depth, cfg.Queue.Name, cfg.Pool)
	asc := scaler.New(cfg.Pool, sup, mon)
	mgr := connmgr.NewManager(cfg.Connection)

	if st != nil {
		sink := func(e store.Event) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.RecordEvent(ctx, e); err != nil {
				slog.Warn("record event failed", "kind", e.Kind, "worker", e.WorkerID, "error", err)
			}
		}
		sup.SetEventSink(sink)
		asc.SetEventSink(sink)
	}

	return &Orchestrator{
		cfg:   cfg,
		sup:   sup,
		mon:   mon,
		asc:   asc,
		mgr:   mgr,
		st:    st,
		depth: depth,
	}, nil
}

// Run brings the pool up to its floor, starts the scaling loop, and serves
// the ops API when enabled. It blocks until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.sup.StartWorkers(o.cfg.Pool.MinWorkers); err != nil {
		return fmt.Errorf("start initial workers: %w", err)
	}

	if o.cfg.Server.Enabled {
		r := server.NewRouter(o.sup, o.mon, o.asc, o.mgr, o.st, "")
		o.srv = server.NewServer(o.cfg.Server.Listen, r)
		slog.Info("ops api listening", "addr", o.cfg.Server.Listen)
	}

	o.asc.Run(ctx)
	return nil
}

// Shutdown stops the ops server, drains every worker gracefully, and closes
// the store and queue connections.
func (o *Orchestrator) Shutdown() {
	if o.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = o.srv.Shutdown(ctx)
		cancel()
	}
	o.sup.Shutdown()
	if o.st != nil {
		_ = o.st.Close()
	}
	_ = o.depth.Close()
}

// Workers returns the current roster sorted by worker ID.
func (o *Orchestrator) Workers() []WorkerRecord { return o.sup.Records() }

// Metrics aggregates one fleet observation on demand.
func (o *Orchestrator) Metrics(ctx context.Context) PoolMetrics {
	return o.mon.AggregateMetrics(ctx)
}

// ScaleTo explicitly resizes the pool, bypassing the autoscaler's bounds
// except for the configured maximum.
func (o *Orchestrator) ScaleTo(target int) error { return o.sup.ScaleTo(target) }

// Execute sends one outbound request through the adaptive connection layer.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Response, error) {
	return o.mgr.Execute(ctx, req)
}

// RegisterMetrics registers the prometheus collectors on r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }
