package bootstrap

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/panel"
)

// Runner errors
var (
	ErrNilPipeline         = errors.New("bootstrap pipeline is nil")
	ErrAllIterationsFailed = errors.New("all bootstrap iterations failed")
)

// PipelineFunc reruns the full plan, engine, and aggregation pipeline on a
// resampled panel and returns its dynamic effects.
type PipelineFunc func(ctx context.Context, p *panel.Panel) ([]domain.DynamicEffect, error)

// Runner executes B independent bootstrap iterations over a worker pool.
// Each iteration owns a result slot and a seeded RNG derived from its slot
// index, so the outcome is independent of worker scheduling.
type Runner struct {
	cfg         domain.BootstrapConfig
	resampler   Resampler
	pipeline    PipelineFunc
	logger      *log.Logger
	onIteration func(done, total int)
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Config    domain.BootstrapConfig
	Resampler Resampler    // default: ByUnit{}
	Pipeline  PipelineFunc // required
	Logger    *log.Logger
	// OnIteration is invoked after each completed iteration with the
	// running completion count. Optional; must be safe for concurrent use.
	OnIteration func(done, total int)
}

// NewRunner validates the configuration and creates a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Pipeline == nil {
		return nil, ErrNilPipeline
	}

	resampler := opts.Resampler
	if resampler == nil {
		resampler = ByUnit{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		cfg:         opts.Config,
		resampler:   resampler,
		pipeline:    opts.Pipeline,
		logger:      logger,
		onIteration: opts.OnIteration,
	}, nil
}

// iteration is one slot's outcome. A failed iteration contributes to no
// event time at all; a successful one contributes exactly the event times
// its resampled panel produced.
type iteration struct {
	draws  map[int]float64 // event time -> dynamic ATT
	failed bool
}

// Run executes all iterations and collects the bootstrap distribution.
// The original panel is shared read-only; every iteration estimates on
// its own resampled copy.
func (r *Runner) Run(ctx context.Context, p *panel.Panel) (*Summary, error) {
	seed := r.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	workers := r.cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	total := r.cfg.Iterations

	r.logger.Printf("[bootstrap] running %d iterations with %d workers (seed %d)", total, workers, seed)
	start := time.Now()

	slots := make([]iteration, total)
	indexes := make(chan int)
	var done atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				slots[i] = r.runIteration(ctx, p, seed, i)
				completed := int(done.Add(1))
				if r.onIteration != nil {
					r.onIteration(completed, total)
				}
			}
		}()
	}

feed:
	for i := 0; i < total; i++ {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	for i := range slots {
		if slots[i].failed {
			failed++
		}
	}
	if failed == total {
		return nil, ErrAllIterationsFailed
	}
	if failed > 0 {
		r.logger.Printf("[bootstrap] %d of %d iterations failed and were excluded", failed, total)
	}
	r.logger.Printf("[bootstrap] completed %d iterations in %v", total, time.Since(start).Round(time.Millisecond))

	return &Summary{
		Iterations: total,
		Failed:     failed,
		Seed:       seed,
		slots:      slots,
	}, nil
}

// runIteration resamples and reruns the pipeline for one slot.
// The slot's RNG depends only on the root seed and the slot index.
func (r *Runner) runIteration(ctx context.Context, p *panel.Panel, seed int64, slot int) iteration {
	rng := rand.New(rand.NewSource(seed + int64(slot)))

	resampled, err := r.resampler.Resample(p, rng)
	if err != nil {
		r.logger.Printf("[bootstrap] iteration %d: resample: %v", slot, err)
		return iteration{failed: true}
	}

	dynamic, err := r.pipeline(ctx, resampled)
	if err != nil {
		r.logger.Printf("[bootstrap] iteration %d: pipeline: %v", slot, err)
		return iteration{failed: true}
	}

	draws := make(map[int]float64, len(dynamic))
	for _, d := range dynamic {
		draws[d.EventTime] = d.ATT
	}
	return iteration{draws: draws}
}
