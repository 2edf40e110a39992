package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/segmentarr/internal/models"
)

// Strategy is the way a video gets segmented.
type Strategy int

const (
	// StrategyNone means the video cannot be processed right now.
	StrategyNone Strategy = iota
	// StrategySequential runs one ffmpeg process per resolution.
	StrategySequential
	// StrategyBulk runs one ffmpeg process for the whole ladder.
	StrategyBulk
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategySequential:
		return "sequential"
	case StrategyBulk:
		return "bulk"
	default:
		return "none"
	}
}

// Reasons attached to a StrategyNone decision.
const (
	ReasonUnknownResolution = "Resolution of unprocessed video can not be determined"
	ReasonLackOfMemory      = "Lack of memory in machine"
	ReasonNoResolutions     = "No configured resolution fits the source height"
)

// Decision is the outcome of strategy selection.
type Decision struct {
	Strategy    Strategy `json:"strategy"`
	Estimate    Estimate `json:"estimate"`
	AvailableMB float64  `json:"available_mb"`
	Reason      string   `json:"reason,omitempty"`
}

// Sampler reports the memory currently available on the host in MB.
type Sampler interface {
	AvailableMB(ctx context.Context) (float64, error)
}

// HostSampler reads available memory from the operating system.
type HostSampler struct{}

// AvailableMB implements Sampler.
func (HostSampler) AvailableMB(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading virtual memory: %w", err)
	}
	return round2(float64(vm.Available) / (1024 * 1024)), nil
}

// Selector picks a strategy from the source size, the ladder and the memory
// available when it is called.
type Selector struct {
	sampler Sampler
	logger  *slog.Logger
}

// NewSelector creates a selector sampling host memory.
func NewSelector() *Selector {
	return &Selector{
		sampler: HostSampler{},
		logger:  slog.Default(),
	}
}

// WithSampler replaces the memory source.
func (s *Selector) WithSampler(sampler Sampler) *Selector {
	s.sampler = sampler
	return s
}

// WithLogger sets the logger.
func (s *Selector) WithLogger(logger *slog.Logger) *Selector {
	s.logger = logger
	return s
}

// Select decides how a srcW x srcH source should be segmented into ladder.
// A sampling failure counts as no memory available.
func (s *Selector) Select(ctx context.Context, srcW, srcH int, ladder []models.ResolutionSpec) Decision {
	raw := PerResolutionMB(fmt.Sprintf("%dx%d", srcW, srcH))
	estimate := EstimateTotal(raw, ladder)

	available, err := s.sampler.AvailableMB(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to sample available memory", slog.String("error", err.Error()))
		available = 0
	}

	d := Decision{Estimate: estimate, AvailableMB: available}
	switch {
	case estimate.IsZero() || available < estimate.SequentialMB:
		d.Strategy = StrategyNone
		switch {
		case srcW == 0 || srcH == 0:
			d.Reason = ReasonUnknownResolution
		case len(ladder) == 0:
			d.Reason = ReasonNoResolutions
		default:
			d.Reason = ReasonLackOfMemory
		}
	case available >= estimate.BulkMB:
		d.Strategy = StrategyBulk
	default:
		d.Strategy = StrategySequential
	}

	s.logger.DebugContext(ctx, "strategy selected",
		slog.String("strategy", d.Strategy.String()),
		slog.Float64("sequential_mb", estimate.SequentialMB),
		slog.Float64("bulk_mb", estimate.BulkMB),
		slog.Float64("available_mb", available),
	)
	return d
}

// Cost is the amount of memory a decision commits to.
func (d Decision) Cost() float64 {
	switch d.Strategy {
	case StrategyBulk:
		return d.Estimate.BulkMB
	case StrategySequential:
		return d.Estimate.SequentialMB
	default:
		return 0
	}
}
