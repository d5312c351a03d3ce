package planner

import "sort"

// maxCuts bounds the segment list on platforms with a short command line.
const maxCuts = 600

// KeyframeFilter keeps only cuts that land exactly on a keyframe.
func KeyframeFilter(cuts, keyframes []int) []int {
	keys := make(map[int]struct{}, len(keyframes))
	for _, k := range keyframes {
		keys[k] = struct{}{}
	}
	out := make([]int, 0, len(cuts))
	for _, c := range cuts {
		if _, ok := keys[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// FixedInterval returns cuts every interval frames, excluding 0 and total.
func FixedInterval(total, interval int) []int {
	if interval <= 0 {
		return nil
	}
	var cuts []int
	for f := interval; f < total; f += interval {
		cuts = append(cuts, f)
	}
	return cuts
}

// PruneMinDistance drops cuts closer than minDist to the previously kept cut
// (frame 0 counts as kept), then drops the final cut when the tail after it
// would be shorter than minDist.
func PruneMinDistance(cuts []int, total, minDist int) []int {
	if minDist <= 0 || len(cuts) == 0 {
		return cuts
	}
	out := make([]int, 0, len(cuts))
	prev := 0
	for _, c := range cuts {
		if c-prev < minDist {
			continue
		}
		out = append(out, c)
		prev = c
	}
	if n := len(out); n > 0 && total-out[n-1] < minDist {
		out = out[:n-1]
	}
	return out
}

// ReduceToCount picks, for each of n ideal split points floor(i*total/n),
// the nearest available cut (frame 0 included as a candidate), deduplicates,
// and returns the result without frame 0. Ties resolve to the earlier cut.
func ReduceToCount(cuts []int, total, n int) []int {
	if n <= 0 || len(cuts) == 0 {
		return cuts
	}
	candidates := append([]int{0}, cuts...)
	picked := make(map[int]struct{}, n)
	for i := 0; i < n; i++ {
		ideal := i * total / n
		best := candidates[0]
		for _, c := range candidates[1:] {
			if abs(c-ideal) < abs(best-ideal) {
				best = c
			}
		}
		picked[best] = struct{}{}
	}
	out := make([]int, 0, len(picked))
	for c := range picked {
		if c > 0 {
			out = append(out, c)
		}
	}
	sort.Ints(out)
	return out
}

// LimitForPlatform halves the cut list until it holds at most 600 cuts on
// every GOOS but linux.
func LimitForPlatform(cuts []int, goos string) []int {
	if goos == "linux" {
		return cuts
	}
	for len(cuts) > maxCuts {
		halved := make([]int, 0, (len(cuts)+1)/2)
		for i := 0; i < len(cuts); i += 2 {
			halved = append(halved, cuts[i])
		}
		cuts = halved
	}
	return cuts
}

// Normalize sorts cuts, removes duplicates, and drops values outside (0, total).
func Normalize(cuts []int, total int) []int {
	sorted := append([]int(nil), cuts...)
	sort.Ints(sorted)
	out := sorted[:0]
	last := -1
	for _, c := range sorted {
		if c <= 0 || (total > 0 && c >= total) || c == last {
			continue
		}
		out = append(out, c)
		last = c
	}
	return out
}

// ChunkLengths returns the frame count of each chunk implied by cuts.
func ChunkLengths(cuts []int, total int) []int {
	lengths := make([]int, 0, len(cuts)+1)
	prev := 0
	for _, c := range cuts {
		lengths = append(lengths, c-prev)
		prev = c
	}
	return append(lengths, total-prev)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
