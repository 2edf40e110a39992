package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/segmentarr/internal/models"
)

var defaultLadder = []models.ResolutionSpec{
	{Size: "1920x1080", Bitrate: "5000k"},
	{Size: "1280x720", Bitrate: "2800k"},
	{Size: "842x480", Bitrate: "1400k"},
	{Size: "640x360", Bitrate: "800k"},
	{Size: "426x240", Bitrate: "400k"},
}

type fixedSampler struct {
	mb  float64
	err error
}

func (f fixedSampler) AvailableMB(context.Context) (float64, error) {
	return f.mb, f.err
}

func TestParseResolution_RoundTrip(t *testing.T) {
	for _, wh := range [][2]int{{1, 1}, {426, 240}, {1920, 1080}, {7680, 4320}} {
		w, h := ParseResolution(fmt.Sprintf("%dx%d", wh[0], wh[1]))
		assert.Equal(t, wh[0], w)
		assert.Equal(t, wh[1], h)
	}
	for _, bad := range []string{"", "1080p", "axb", "0x0", "10x", "x10"} {
		w, h := ParseResolution(bad)
		assert.Zero(t, w, bad)
		assert.Zero(t, h, bad)
	}
}

func TestPerResolutionMB(t *testing.T) {
	assert.Equal(t, 237.3, PerResolutionMB("1920x1080"))
	assert.Equal(t, 105.47, PerResolutionMB("1280x720"))
	assert.Equal(t, 0.0, PerResolutionMB("garbage"))
	assert.Equal(t, int64(1920*1080*3), PerFrameCost(1920, 1080))
}

func TestEstimateTotal(t *testing.T) {
	raw := PerResolutionMB("1920x1080")

	est := EstimateTotal(raw, defaultLadder)
	var sum float64
	for _, r := range defaultLadder {
		sum += PerResolutionMB(r.Size)
	}
	assert.InDelta(t, 237.3+raw+256, est.SequentialMB, 0.01)
	assert.InDelta(t, sum+raw+256, est.BulkMB, 0.01)
	assert.GreaterOrEqual(t, est.BulkMB, est.SequentialMB)

	t.Run("sentinel", func(t *testing.T) {
		assert.True(t, EstimateTotal(0, defaultLadder).IsZero())
		assert.True(t, EstimateTotal(-5, defaultLadder).IsZero())
		assert.True(t, EstimateTotal(raw, nil).IsZero())
		assert.True(t, EstimateTotal(raw, []models.ResolutionSpec{{Size: "1280x720"}, {Size: "bad"}}).IsZero())
	})
}

func TestSelector_Select(t *testing.T) {
	raw := PerResolutionMB("1920x1080")
	est := EstimateTotal(raw, defaultLadder)
	ctx := context.Background()

	tests := []struct {
		name      string
		w, h      int
		available float64
		want      Strategy
		reason    string
	}{
		{"plenty", 1920, 1080, est.BulkMB, StrategyBulk, ""},
		{"between", 1920, 1080, est.BulkMB - 0.01, StrategySequential, ""},
		{"exactly sequential", 1920, 1080, est.SequentialMB, StrategySequential, ""},
		{"too little", 1920, 1080, est.SequentialMB - 0.01, StrategyNone, ReasonLackOfMemory},
		{"unknown width", 0, 1080, 1 << 20, StrategyNone, ReasonUnknownResolution},
		{"unknown height", 1920, 0, 1 << 20, StrategyNone, ReasonUnknownResolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector().WithSampler(fixedSampler{mb: tt.available})
			d := s.Select(ctx, tt.w, tt.h, defaultLadder)
			assert.Equal(t, tt.want, d.Strategy)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.available, d.AvailableMB)
		})
	}
}

func TestSelector_EmptyLadder(t *testing.T) {
	// A 426x200 source is shorter than every rung once the ladder is filtered.
	ladder := models.SupportedResolutions(defaultLadder, 200)
	require.Empty(t, ladder)

	d := NewSelector().WithSampler(fixedSampler{mb: 1 << 20}).Select(context.Background(), 426, 200, ladder)
	assert.Equal(t, StrategyNone, d.Strategy)
	assert.Equal(t, ReasonNoResolutions, d.Reason)
	assert.True(t, d.Estimate.IsZero())
}

func TestSelector_SamplerError(t *testing.T) {
	d := NewSelector().WithSampler(fixedSampler{err: errors.New("no /proc")}).Select(context.Background(), 1920, 1080, defaultLadder)
	assert.Equal(t, StrategyNone, d.Strategy)
}

func TestDecision_Cost(t *testing.T) {
	est := Estimate{SequentialMB: 10, BulkMB: 20}
	assert.Equal(t, 20.0, Decision{Strategy: StrategyBulk, Estimate: est}.Cost())
	assert.Equal(t, 10.0, Decision{Strategy: StrategySequential, Estimate: est}.Cost())
	assert.Zero(t, Decision{Strategy: StrategyNone, Estimate: est}.Cost())
}

func TestHostSampler(t *testing.T) {
	mb, err := HostSampler{}.AvailableMB(context.Background())
	require.NoError(t, err)
	assert.Greater(t, mb, 0.0)
}

func TestStrategy_String(t *testing.T) {
	assert.Equal(t, "bulk", StrategyBulk.String())
	assert.Equal(t, "sequential", StrategySequential.String())
	assert.Equal(t, "none", StrategyNone.String())
}
