package quality

import (
	"errors"
	"math"
	"sort"
)

// Monotone is a piecewise cubic Hermite interpolant whose slopes follow
// Fritsch and Carlson, so it never overshoots monotone data.
type Monotone struct {
	x, y, d []float64
}

// NewMonotone fits points. x values must be distinct; at least two are required.
func NewMonotone(points []Probe) (*Monotone, error) {
	if len(points) < 2 {
		return nil, errors.New("interpolation needs at least two points")
	}
	sorted := append([]Probe(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CQ < sorted[j].CQ })
	n := len(sorted)
	m := &Monotone{x: make([]float64, n), y: make([]float64, n), d: make([]float64, n)}
	for i, p := range sorted {
		if i > 0 && p.CQ == sorted[i-1].CQ {
			return nil, errors.New("interpolation points must have distinct x values")
		}
		m.x[i] = float64(p.CQ)
		m.y[i] = p.Score
	}

	h := make([]float64, n-1)
	delta := make([]float64, n-1)
	for k := 0; k < n-1; k++ {
		h[k] = m.x[k+1] - m.x[k]
		delta[k] = (m.y[k+1] - m.y[k]) / h[k]
	}
	if n == 2 {
		m.d[0], m.d[1] = delta[0], delta[0]
		return m, nil
	}

	for k := 1; k < n-1; k++ {
		if delta[k-1]*delta[k] <= 0 {
			continue
		}
		w1 := 2*h[k] + h[k-1]
		w2 := h[k] + 2*h[k-1]
		m.d[k] = (w1 + w2) / (w1/delta[k-1] + w2/delta[k])
	}
	m.d[0] = edgeSlope(h[0], h[1], delta[0], delta[1])
	m.d[n-1] = edgeSlope(h[n-2], h[n-3], delta[n-2], delta[n-3])
	return m, nil
}

// edgeSlope is the shape-preserving three-point end condition.
func edgeSlope(h0, h1, m0, m1 float64) float64 {
	d := ((2*h0+h1)*m0 - h0*m1) / (h0 + h1)
	switch {
	case sign(d) != sign(m0):
		return 0
	case sign(m0) != sign(m1) && math.Abs(d) > 3*math.Abs(m0):
		return 3 * m0
	}
	return d
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// At evaluates the interpolant. Values outside the fitted range are clamped
// to the nearest end.
func (m *Monotone) At(t float64) float64 {
	n := len(m.x)
	if t <= m.x[0] {
		return m.y[0]
	}
	if t >= m.x[n-1] {
		return m.y[n-1]
	}
	k := sort.SearchFloat64s(m.x, t)
	if m.x[k] == t {
		return m.y[k]
	}
	k--
	h := m.x[k+1] - m.x[k]
	s := (t - m.x[k]) / h
	s2, s3 := s*s, s*s*s
	return (2*s3-3*s2+1)*m.y[k] +
		(s3-2*s2+s)*h*m.d[k] +
		(-2*s3+3*s2)*m.y[k+1] +
		(s3-s2)*h*m.d[k+1]
}
