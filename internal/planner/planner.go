package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"

	"qencode/internal/config"
	"qencode/internal/logging"
	"qencode/internal/media/ffmpeg"
	"qencode/internal/services"
	"qencode/internal/workdir"
)

const stageName = "plan"

// Media is the subset of ffmpeg.Runner the planner needs.
type Media interface {
	Analyze(ctx context.Context, path string, threshold float64, onFrame func(int)) (ffmpeg.Analysis, error)
	CountFrames(ctx context.Context, path string) (int, error)
	Segment(ctx context.Context, src string, cuts []int, pattern, firstName string) error
}

// Chunk is one independently encodable segment of the source.
type Chunk struct {
	Index        int
	Name         string
	SourcePath   string
	EncodePath   string
	SourceFrames int
	SizeBytes    int64
}

// Plan is the finalized cut list for a source.
type Plan struct {
	Source   string
	Total    int
	Cuts     []int
	Strategy config.SplitStrategy
	// Candidates is the number of cut candidates before post-processing.
	Candidates int
	// FromFile is set when the cut list came from a saved scenes file.
	FromFile bool
}

// Chunks returns the number of chunks the plan produces.
func (p Plan) Chunks() int { return len(p.Cuts) + 1 }

// Options adjusts a single planning run.
type Options struct {
	// TargetCount reduces the cut list to about this many chunks. Zero disables.
	TargetCount int
	// OnFrame receives analysis progress as frames are decoded.
	OnFrame func(n int)
}

// Planner computes cut lists and materializes chunks.
type Planner struct {
	cfg    *config.Config
	media  Media
	layout workdir.Layout
	logger *slog.Logger
	goos   string
}

// New constructs a Planner.
func New(cfg *config.Config, media Media, layout workdir.Layout, logger *slog.Logger) *Planner {
	return &Planner{
		cfg:    cfg,
		media:  media,
		layout: layout,
		logger: logging.NewComponentLogger(logger, "planner"),
		goos:   runtime.GOOS,
	}
}

// Plan computes the cut list for the configured source and saves it to the
// temp dir. Any failure is fatal for the job.
func (p *Planner) Plan(ctx context.Context, opts Options) (Plan, error) {
	plan, err := p.plan(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return Plan{}, services.Wrap(services.ErrCancelled, stageName, "detect", "", ctx.Err())
		}
		return Plan{}, services.Fatal(stageName, "detect", err)
	}
	if err := WriteScenes(p.layout.ScenesPath(), plan.Cuts); err != nil {
		return Plan{}, services.Fatal(stageName, "save scenes", err)
	}
	if path := strings.TrimSpace(p.cfg.Split.ScenesFile); path != "" && !plan.FromFile {
		if err := WriteScenes(path, plan.Cuts); err != nil {
			logging.WarnWithContext(p.logger, "failed to save scenes file", "scenes_save_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the next run will detect scenes again"),
			)
		}
	}
	p.logger.Info("split plan ready",
		logging.String("strategy", string(plan.Strategy)),
		logging.Int("frames", plan.Total),
		logging.Int("candidates", plan.Candidates),
		logging.Int("cuts", len(plan.Cuts)),
		logging.Bool("from_file", plan.FromFile),
	)
	return plan, nil
}

func (p *Planner) plan(ctx context.Context, opts Options) (Plan, error) {
	source := p.cfg.Paths.Source
	strategy := p.cfg.Split.Strategy
	plan := Plan{Source: source, Strategy: strategy}

	if path := strings.TrimSpace(p.cfg.Split.ScenesFile); path != "" {
		cuts, err := ReadScenes(path)
		switch {
		case err == nil:
			total, err := p.media.CountFrames(ctx, source)
			if err != nil {
				return Plan{}, err
			}
			plan.Total = total
			plan.Cuts = Normalize(cuts, total)
			plan.Candidates = len(cuts)
			plan.FromFile = true
			p.logger.Info("using saved scenes", logging.String("path", path), logging.Int("cuts", len(plan.Cuts)))
			return plan, nil
		case !errors.Is(err, os.ErrNotExist):
			return Plan{}, err
		}
	}

	var candidates []int
	switch strategy {
	case config.SplitNone:
		total, err := p.media.CountFrames(ctx, source)
		if err != nil {
			return Plan{}, err
		}
		plan.Total = total
		return plan, nil
	case config.SplitFixedInterval:
		total, err := p.media.CountFrames(ctx, source)
		if err != nil {
			return Plan{}, err
		}
		plan.Total = total
		candidates = FixedInterval(total, p.cfg.Split.IntervalFrames)
	case config.SplitContent, config.SplitKeyframeSafe:
		analysis, err := p.media.Analyze(ctx, source, p.cfg.Split.Threshold/100, opts.OnFrame)
		if err != nil {
			return Plan{}, err
		}
		plan.Total = analysis.Frames
		candidates = analysis.SceneCuts
		p.logger.Info("scene detection finished",
			logging.Int("scenes", len(candidates)),
			logging.Int("keyframes", len(analysis.Keyframes)),
		)
		if strategy == config.SplitKeyframeSafe && !p.cfg.Split.Unsafe {
			candidates = KeyframeFilter(candidates, analysis.Keyframes)
			p.logger.Info("kept cuts on keyframes", logging.Int("cuts", len(candidates)))
		}
	default:
		return Plan{}, fmt.Errorf("unknown split strategy %q", strategy)
	}

	plan.Candidates = len(candidates)
	plan.Cuts = p.postProcess(Normalize(candidates, plan.Total), plan.Total, opts.TargetCount)
	return plan, nil
}

func (p *Planner) postProcess(cuts []int, total, target int) []int {
	cuts = PruneMinDistance(cuts, total, p.cfg.Split.MinSplitDistance)
	if target > 0 {
		cuts = ReduceToCount(cuts, total, target)
	}
	return LimitForPlatform(cuts, p.goos)
}

// Split stream-copies the source into split/ according to plan and returns
// the resulting chunks. The chunks must match the plan in count and in total
// frames; anything else is fatal. Only a checked split is marked complete.
func (p *Planner) Split(ctx context.Context, plan Plan) ([]Chunk, error) {
	manifestPath := p.layout.SplitManifestPath()
	manifest := ManifestFor(plan)
	if err := WriteManifest(manifestPath, manifest); err != nil {
		return nil, services.Fatal(stageName, "save split manifest", err)
	}
	if err := workdir.ResetSplit(p.layout); err != nil {
		return nil, services.Fatal(stageName, "split", err)
	}
	err := p.media.Segment(ctx, plan.Source, plan.Cuts, p.layout.SplitPattern(), p.layout.SourceChunk(workdir.ChunkName(0)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrCancelled, stageName, "split", "", ctx.Err())
		}
		return nil, services.Fatal(stageName, "split", err)
	}
	chunks, err := p.Chunks(ctx)
	if err != nil {
		return nil, err
	}
	if err := manifest.check(chunks); err != nil {
		logging.ErrorWithContext(p.logger, "split does not match plan", "split_mismatch",
			logging.Int("planned_chunks", manifest.Chunks),
			logging.Int("produced_chunks", len(chunks)),
			logging.Int("planned_frames", manifest.Total),
			logging.Int("produced_frames", TotalFrames(chunks)),
		)
		return nil, services.Fatal(stageName, "split",
			services.Wrap(services.ErrValidation, stageName, "split", "", err))
	}
	manifest.Complete = true
	if err := WriteManifest(manifestPath, manifest); err != nil {
		return nil, services.Fatal(stageName, "save split manifest", err)
	}
	return chunks, nil
}

// Resume returns the chunks of a previous split when its manifest is marked
// complete, names the configured source, and still matches split/. It
// reports false when the split must be made again.
func (p *Planner) Resume(ctx context.Context) ([]Chunk, bool, error) {
	path := p.layout.SplitManifestPath()
	manifest, err := ReadManifest(path)
	if err != nil {
		p.logger.Info("no usable split manifest; splitting again",
			logging.String("path", path),
			logging.Error(err),
		)
		return nil, false, nil
	}
	reject := func(reason string, attrs ...logging.Attr) ([]Chunk, bool, error) {
		attrs = append(attrs,
			logging.String("reason", reason),
			logging.String(logging.FieldImpact, "source will be split again"),
		)
		logging.WarnWithContext(p.logger, "previous split not reusable", "split_not_reusable", attrs...)
		return nil, false, nil
	}
	if !manifest.Complete {
		return reject("split was interrupted")
	}
	if manifest.Source != p.cfg.Paths.Source {
		return reject("source changed", logging.String("previous_source", manifest.Source))
	}
	chunks, err := p.Chunks(ctx)
	if err != nil {
		if ctx.Err() != nil || services.IsCancelled(err) {
			return nil, false, err
		}
		return reject("split chunks unreadable", logging.Error(err))
	}
	if err := manifest.check(chunks); err != nil {
		return reject("split chunks do not match manifest", logging.Error(err))
	}
	return chunks, true, nil
}

// Chunks lists the chunks present in split/ in index order, counting the
// frames of each. It is used after a split and when resuming.
func (p *Planner) Chunks(ctx context.Context) ([]Chunk, error) {
	names, err := p.layout.SplitChunks()
	if err != nil {
		return nil, services.Fatal(stageName, "list chunks", err)
	}
	if len(names) == 0 {
		return nil, services.Fatal(stageName, "list chunks",
			services.Wrap(services.ErrNotFound, stageName, "", "no chunks in "+p.layout.SplitDir(), nil))
	}
	chunks := make([]Chunk, 0, len(names))
	for i, name := range names {
		src := p.layout.SourceChunk(name)
		info, err := os.Stat(src)
		if err != nil {
			return nil, services.Fatal(stageName, "stat chunk", err)
		}
		frames, err := p.media.CountFrames(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, services.Wrap(services.ErrCancelled, stageName, "count frames", "", ctx.Err())
			}
			return nil, services.Fatal(stageName, "count frames", err)
		}
		if frames == 0 {
			return nil, services.Fatal(stageName, "count frames",
				fmt.Errorf("chunk %s has no frames", name))
		}
		chunks = append(chunks, Chunk{
			Index:        i,
			Name:         name,
			SourcePath:   src,
			EncodePath:   p.layout.EncodedChunk(name),
			SourceFrames: frames,
			SizeBytes:    info.Size(),
		})
	}
	return chunks, nil
}

// TotalFrames sums the source frames of chunks.
func TotalFrames(chunks []Chunk) int {
	total := 0
	for _, c := range chunks {
		total += c.SourceFrames
	}
	return total
}

// EncodeOrder returns chunks sorted largest first, ties by index.
func EncodeOrder(chunks []Chunk) []Chunk {
	ordered := append([]Chunk(nil), chunks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SizeBytes != ordered[j].SizeBytes {
			return ordered[i].SizeBytes > ordered[j].SizeBytes
		}
		return ordered[i].Index < ordered[j].Index
	})
	return ordered
}

// AssemblyOrder returns chunks sorted by index.
func AssemblyOrder(chunks []Chunk) []Chunk {
	ordered := append([]Chunk(nil), chunks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	return ordered
}
