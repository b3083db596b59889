package ecs

// Mat4 is a row-major 4x4 matrix acting on column vectors.
type Mat4 [16]float32

// Identity returns the identity matrix.
func Identity() Mat4 {
	return Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// Translation returns a translation by (x, y, z).
func Translation(x, y, z float32) Mat4 {
	m := Identity()
	m[3], m[7], m[11] = x, y, z
	return m
}

// Mul returns m * n.
func (m Mat4) Mul(n Mat4) Mat4 {
	var r Mat4
	for row := range 4 {
		for col := range 4 {
			var s float32
			for k := range 4 {
				s += m[row*4+k] * n[k*4+col]
			}
			r[row*4+col] = s
		}
	}
	return r
}

// TransformPoint applies m to p with w = 1 and divides by the resulting w.
func (m Mat4) TransformPoint(p [3]float32) [3]float32 {
	var out [4]float32
	for row := range 4 {
		out[row] = m[row*4]*p[0] + m[row*4+1]*p[1] + m[row*4+2]*p[2] + m[row*4+3]
	}
	if out[3] != 0 && out[3] != 1 {
		return [3]float32{out[0] / out[3], out[1] / out[3], out[2] / out[3]}
	}
	return [3]float32{out[0], out[1], out[2]}
}
