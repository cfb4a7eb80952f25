package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig tunes restart behaviour of the worker tree.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns suture's recommended restart settings with a 10s shutdown timeout.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree supervises the sync workers and the HTTP surface in separate branches so a crashing server never restarts
// a running sync.
type Tree struct {
	root    *suture.Supervisor
	workers *suture.Supervisor
	api     *suture.Supervisor
}

// NewTree builds an empty supervisor tree that reports restarts through logger.
func NewTree(name string, logger *slog.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	handler := &sutureslog.Handler{Logger: logger}
	child := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	root := child
	root.EventHook = handler.MustHook()

	t := &Tree{
		root:    suture.New(name, root),
		workers: suture.New("sync-workers", child),
		api:     suture.New("api", child),
	}
	t.root.Add(t.workers)
	t.root.Add(t.api)
	return t
}

// AddWorkers adds n [WorkerService] instances sharing coord.
func (t *Tree) AddWorkers(coord *Coordinator, n int) {
	for i := 1; i <= max(n, 1); i++ {
		t.workers.Add(NewWorkerService(coord, i))
	}
}

// AddWorkerService adds any service to the worker branch.
func (t *Tree) AddWorkerService(svc suture.Service) suture.ServiceToken {
	return t.workers.Add(svc)
}

// AddAPIService adds a service to the API branch.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// GaugeService refreshes the job state gauges on an interval.
type GaugeService struct {
	coord    *Coordinator
	interval time.Duration
}

// NewGaugeService creates a gauge refresher. A non-positive interval defaults to 15s.
func NewGaugeService(coord *Coordinator, interval time.Duration) *GaugeService {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &GaugeService{coord: coord, interval: interval}
}

func (g *GaugeService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		g.coord.RefreshGauges(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *GaugeService) String() string {
	return "job-gauges"
}
