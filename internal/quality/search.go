package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"qencode/internal/logging"
)

// Prober measures the quality score of a chunk encoded at cq.
type Prober interface {
	Probe(ctx context.Context, cq int) (float64, error)
}

// SearchParams bounds a target search.
type SearchParams struct {
	MinCQ  int
	MaxCQ  int
	Steps  int
	Target float64
	Logger *slog.Logger
}

// SearchResult is the outcome of a target search.
type SearchResult struct {
	CQ        int
	Predicted float64
	Probes    []Probe
	Reason    string
}

// Search finds the CQ in [MinCQ, MaxCQ] whose score is closest to Target,
// assuming the score falls as CQ rises.
//
// MaxCQ is probed first and accepted outright when its rounded score already
// beats the target; MinCQ is probed next and accepted when its rounded score
// still misses. Otherwise Steps-2 bisection probes narrow the bracket, and a
// monotone cubic through every probe picks the integer CQ whose predicted
// score is nearest the target.
func Search(ctx context.Context, prober Prober, params SearchParams) (SearchResult, error) {
	s := &search{prober: prober, scores: map[int]float64{}}

	high, err := s.probe(ctx, params.MaxCQ)
	if err != nil {
		return SearchResult{}, err
	}
	if math.RoundToEven(high) > params.Target {
		return s.result(params.MaxCQ, high, "early-high"), nil
	}
	low, err := s.probe(ctx, params.MinCQ)
	if err != nil {
		return SearchResult{}, err
	}
	if math.RoundToEven(low) < params.Target {
		return s.result(params.MinCQ, low, "early-low"), nil
	}

	tried := []int{params.MinCQ, params.MaxCQ}
	last, next := params.MinCQ, params.MaxCQ
	for i := 0; i < params.Steps-2; i++ {
		mid := (last + next) / 2
		last = mid
		tried = append(tried, mid)
		score, err := s.probe(ctx, mid)
		if err != nil {
			return SearchResult{}, err
		}
		n, ok := closest(tried, last, score >= params.Target)
		if !ok {
			logger := params.Logger
			if logger == nil {
				logger = logging.NewNop()
			}
			logger.Debug("target search bracket exhausted",
				logging.Int("cq", mid),
				logging.Int("probes", len(s.scores)),
				logging.Int("steps", params.Steps),
			)
			break
		}
		next = n
	}

	cq, predicted, err := pickClosest(s.probes(), params.Target)
	if err != nil {
		return SearchResult{}, err
	}
	return s.result(cq, predicted, "interpolated"), nil
}

type search struct {
	prober Prober
	scores map[int]float64
}

// probe measures cq once; repeated bisection midpoints reuse the first score.
func (s *search) probe(ctx context.Context, cq int) (float64, error) {
	if score, ok := s.scores[cq]; ok {
		return score, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	score, err := s.prober.Probe(ctx, cq)
	if err != nil {
		return 0, fmt.Errorf("probe cq %d: %w", cq, err)
	}
	s.scores[cq] = score
	return score, nil
}

func (s *search) probes() []Probe {
	out := make([]Probe, 0, len(s.scores))
	for cq, score := range s.scores {
		out = append(out, Probe{CQ: cq, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CQ < out[j].CQ })
	return out
}

func (s *search) result(cq int, predicted float64, reason string) SearchResult {
	return SearchResult{CQ: cq, Predicted: predicted, Probes: s.probes(), Reason: reason}
}

// closest returns the value in list nearest to q that is strictly above q
// (or strictly below when above is false).
func closest(list []int, q int, above bool) (int, bool) {
	best, found := 0, false
	for _, v := range list {
		if (above && v <= q) || (!above && v >= q) {
			continue
		}
		if !found || abs(v-q) < abs(best-q) {
			best, found = v, true
		}
	}
	return best, found
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// pickClosest fits the probes and scans every integer CQ between the lowest
// and highest probe for the predicted score nearest target. Ties go to the
// lower CQ.
func pickClosest(probes []Probe, target float64) (int, float64, error) {
	if len(probes) == 1 {
		return probes[0].CQ, probes[0].Score, nil
	}
	curve, err := NewMonotone(probes)
	if err != nil {
		return 0, 0, err
	}
	lo, hi := probes[0].CQ, probes[len(probes)-1].CQ
	bestCQ, bestScore := lo, curve.At(float64(lo))
	for cq := lo + 1; cq <= hi; cq++ {
		score := curve.At(float64(cq))
		if math.Abs(score-target) < math.Abs(bestScore-target) {
			bestCQ, bestScore = cq, score
		}
	}
	return bestCQ, bestScore, nil
}
