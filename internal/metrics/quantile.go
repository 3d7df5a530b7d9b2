// ABOUTME: P-squared streaming quantile estimator with constant memory
// ABOUTME: Tracks one quantile per instance using five markers

package metrics

// Estimator computes a running estimate of a single quantile using the P²
// algorithm (Jain & Chlamtac, 1985). It keeps five markers regardless of how
// many observations it has seen, so memory stays bounded forever.
type Estimator struct {
	p     float64
	count int
	q     [5]float64 // marker heights
	n     [5]float64 // marker positions
	np    [5]float64 // desired positions
	dn    [5]float64 // desired position increments
}

// NewEstimator returns an estimator for quantile p in (0, 1).
func NewEstimator(p float64) *Estimator {
	e := &Estimator{p: p}
	e.dn = [5]float64{0, p / 2, p, (1 + p) / 2, 1}
	return e
}

// Observe feeds one sample into the estimator.
func (e *Estimator) Observe(x float64) {
	if e.count < 5 {
		// Insertion sort into the initial marker set.
		i := e.count
		for i > 0 && e.q[i-1] > x {
			e.q[i] = e.q[i-1]
			i--
		}
		e.q[i] = x
		e.count++
		if e.count == 5 {
			for j := 0; j < 5; j++ {
				e.n[j] = float64(j + 1)
				e.np[j] = 1 + 4*e.dn[j]
			}
		}
		return
	}

	e.count++

	// Locate the cell containing x, extending the extremes when needed.
	var k int
	switch {
	case x < e.q[0]:
		e.q[0] = x
		k = 0
	case x >= e.q[4]:
		e.q[4] = x
		k = 3
	default:
		for k = 0; k < 3; k++ {
			if x < e.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}
	for i := 0; i < 5; i++ {
		e.np[i] += e.dn[i]
	}

	// Adjust the three interior markers toward their desired positions.
	for i := 1; i <= 3; i++ {
		d := e.np[i] - e.n[i]
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			var s float64 = 1
			if d < 0 {
				s = -1
			}
			qn := e.parabolic(i, s)
			if qn <= e.q[i-1] || qn >= e.q[i+1] {
				qn = e.linear(i, s)
			}
			e.q[i] = qn
			e.n[i] += s
		}
	}
}

func (e *Estimator) parabolic(i int, d float64) float64 {
	return e.q[i] + d/(e.n[i+1]-e.n[i-1])*
		((e.n[i]-e.n[i-1]+d)*(e.q[i+1]-e.q[i])/(e.n[i+1]-e.n[i])+
			(e.n[i+1]-e.n[i]-d)*(e.q[i]-e.q[i-1])/(e.n[i]-e.n[i-1]))
}

func (e *Estimator) linear(i int, d float64) float64 {
	j := i + int(d)
	return e.q[i] + d*(e.q[j]-e.q[i])/(e.n[j]-e.n[i])
}

// Value returns the current quantile estimate. Before five observations the
// estimate falls back on the sorted sample set.
func (e *Estimator) Value() float64 {
	if e.count == 0 {
		return 0
	}
	if e.count < 5 {
		idx := int(e.p * float64(e.count))
		if idx >= e.count {
			idx = e.count - 1
		}
		return e.q[idx]
	}
	return e.q[2]
}

// Count returns the number of observations seen.
func (e *Estimator) Count() int { return e.count }
