package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"qencode/internal/config"
	"qencode/internal/logging"
	"qencode/internal/planner"
	"qencode/internal/services"
)

// neutralLuma is the brightness at and above which no boost applies.
const neutralLuma = 128

// BrightnessSampler returns the mean 8-bit luma of every frame in a file.
type BrightnessSampler interface {
	Brightness(ctx context.Context, path string) ([]float64, error)
}

// Boost lowers the CQ of dark chunks.
type Boost struct {
	sampler  BrightnessSampler
	baseCQ   int
	strength int
	floor    int
	logger   *slog.Logger
}

// NewBoost constructs a Boost strategy around baseCQ.
func NewBoost(sampler BrightnessSampler, baseCQ, strength, floor int, logger *slog.Logger) *Boost {
	return &Boost{
		sampler:  sampler,
		baseCQ:   baseCQ,
		strength: strength,
		floor:    floor,
		logger:   logging.NewComponentLogger(logger, "boost"),
	}
}

func (b *Boost) Decide(ctx context.Context, chunk planner.Chunk) (Decision, error) {
	values, err := b.sampler.Brightness(ctx, chunk.SourcePath)
	if err != nil {
		return Decision{}, services.Wrap(services.ErrExternalTool, "quality", "brightness", chunk.Name, err)
	}
	brightness := GeometricBrightness(values)
	cq := BoostCQ(b.baseCQ, brightness, b.strength, b.floor)
	b.logger.Debug("brightness boost",
		logging.Chunk(chunk.Name),
		logging.Float64("brightness", brightness),
		logging.Int("cq", cq),
	)
	return Decision{
		Mode:       config.QualityFixedCQ,
		CQ:         cq,
		Brightness: brightness,
		Reason:     fmt.Sprintf("boost from %d", b.baseCQ),
	}, nil
}

// GeometricBrightness returns the geometric mean of (luma+1) over all frames,
// rounded to one decimal. The +1 keeps black frames from zeroing the mean.
func GeometricBrightness(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += math.Log(v + 1)
	}
	return math.Round(math.Exp(sum/float64(len(values)))*10) / 10
}

// BoostCQ lowers cq by round((128-b)/128*strength) when b < 128, never
// going below floor.
func BoostCQ(cq int, brightness float64, strength, floor int) int {
	if brightness >= neutralLuma {
		return cq
	}
	boosted := cq - int(math.RoundToEven((neutralLuma-brightness)/neutralLuma*float64(strength)))
	if boosted < floor {
		return floor
	}
	return boosted
}
