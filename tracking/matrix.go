package tracking

// mat is a small dense row-major matrix used only by the Kalman filter.
// The corpus has no linear-algebra dependency to ground this on (the
// reference detector is a stateless VLM call, not a filter); these are
// hand-rolled because pulling in a matrix library (e.g. gonum) for an 8x8
// constant-velocity filter would be the only use of it in the whole module.
type mat struct {
	rows, cols int
	data       []float64
}

func newMat(rows, cols int) *mat {
	return &mat{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

func identity(n int) *mat {
	m := newMat(n, n)
	for i := 0; i < n; i++ {
		m.set(i, i, 1)
	}
	return m
}

func (m *mat) at(r, c int) float64     { return m.data[r*m.cols+c] }
func (m *mat) set(r, c int, v float64) { m.data[r*m.cols+c] = v }

func (m *mat) clone() *mat {
	cp := newMat(m.rows, m.cols)
	copy(cp.data, m.data)
	return cp
}

func (m *mat) mul(o *mat) *mat {
	if m.cols != o.rows {
		panic("mat: mul dimension mismatch")
	}
	out := newMat(m.rows, o.cols)
	for i := 0; i < m.rows; i++ {
		for k := 0; k < m.cols; k++ {
			mik := m.at(i, k)
			if mik == 0 {
				continue
			}
			for j := 0; j < o.cols; j++ {
				out.set(i, j, out.at(i, j)+mik*o.at(k, j))
			}
		}
	}
	return out
}

func (m *mat) transpose() *mat {
	out := newMat(m.cols, m.rows)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out.set(j, i, m.at(i, j))
		}
	}
	return out
}

func (m *mat) add(o *mat) *mat {
	out := newMat(m.rows, m.cols)
	for i := range m.data {
		out.data[i] = m.data[i] + o.data[i]
	}
	return out
}

func (m *mat) sub(o *mat) *mat {
	out := newMat(m.rows, m.cols)
	for i := range m.data {
		out.data[i] = m.data[i] - o.data[i]
	}
	return out
}

// inverse computes the matrix inverse via Gauss-Jordan elimination with
// partial pivoting. Only ever called on the small (4x4) innovation
// covariance, which is positive definite by construction.
func (m *mat) inverse() *mat {
	n := m.rows
	aug := newMat(n, 2*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			aug.set(i, j, m.at(i, j))
		}
		aug.set(i, n+i, 1)
	}

	for col := 0; col < n; col++ {
		pivot := col
		best := aug.at(col, col)
		if best < 0 {
			best = -best
		}
		for r := col + 1; r < n; r++ {
			v := aug.at(r, col)
			if v < 0 {
				v = -v
			}
			if v > best {
				best = v
				pivot = r
			}
		}
		if pivot != col {
			for j := 0; j < 2*n; j++ {
				aug.data[col*aug.cols+j], aug.data[pivot*aug.cols+j] = aug.data[pivot*aug.cols+j], aug.data[col*aug.cols+j]
			}
		}

		pv := aug.at(col, col)
		if pv == 0 {
			pv = 1e-9 // degenerate; avoid a NaN cascade, clamp instead of guessing a value
		}
		for j := 0; j < 2*n; j++ {
			aug.set(col, j, aug.at(col, j)/pv)
		}

		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug.at(r, col)
			if factor == 0 {
				continue
			}
			for j := 0; j < 2*n; j++ {
				aug.set(r, j, aug.at(r, j)-factor*aug.at(col, j))
			}
		}
	}

	out := newMat(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.set(i, j, aug.at(i, n+j))
		}
	}
	return out
}
