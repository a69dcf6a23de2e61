package kalman

// Fixed-size helpers for the two-state model. Dimensions never change so
// everything lives on the stack.

type vec2 [2]float64

type mat2 [2][2]float64

var identity = mat2{{1, 0}, {0, 1}}

func dot(a, b vec2) float64 {
	return a[0]*b[0] + a[1]*b[1]
}

func outer(a, b vec2) mat2 {
	return mat2{
		{a[0] * b[0], a[0] * b[1]},
		{a[1] * b[0], a[1] * b[1]},
	}
}

func (m mat2) mul(o mat2) mat2 {
	var r mat2
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			r[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j]
		}
	}
	return r
}

func (m mat2) mulVec(v vec2) vec2 {
	return vec2{
		m[0][0]*v[0] + m[0][1]*v[1],
		m[1][0]*v[0] + m[1][1]*v[1],
	}
}

func (m mat2) t() mat2 {
	return mat2{
		{m[0][0], m[1][0]},
		{m[0][1], m[1][1]},
	}
}

func (m mat2) add(o mat2) mat2 {
	var r mat2
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			r[i][j] = m[i][j] + o[i][j]
		}
	}
	return r
}

func (m mat2) sub(o mat2) mat2 {
	return m.add(o.scale(-1))
}

func (m mat2) scale(s float64) mat2 {
	var r mat2
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			r[i][j] = m[i][j] * s
		}
	}
	return r
}

// symmetrize averages the off-diagonal terms to remove rounding drift.
func (m mat2) symmetrize() mat2 {
	off := 0.5 * (m[0][1] + m[1][0])
	m[0][1] = off
	m[1][0] = off
	return m
}
