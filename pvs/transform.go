package pvs

// DefaultTranslationScale is applied to translations only, never to rotations.
const DefaultTranslationScale float32 = 1000

// Matrix4 is a row-major homogeneous affine matrix.
type Matrix4 [4][4]float32

// Identity returns the 4x4 identity matrix.
func Identity() Matrix4 {
	return Matrix4{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Zero returns the all-zero matrix.
func Zero() Matrix4 { return Matrix4{} }

// BuildTransform assembles a local transform from a row-major rotation and a
// translation. The rotation is inserted transposed: element (r, c) of o lands
// in matrix row c. The scaled translation fills the fourth column.
func BuildTransform(o [9]float32, t [3]float32, scale float32) Matrix4 {
	return Matrix4{
		{o[0], o[3], o[6], t[0] * scale},
		{o[1], o[4], o[7], t[1] * scale},
		{o[2], o[5], o[8], t[2] * scale},
		{0, 0, 0, 1},
	}
}

// Multiply returns a × b. Sums accumulate from zero in index order and every
// product is rounded to float32 first, so results do not depend on whether
// the target fuses multiply-add.
func Multiply(a, b Matrix4) Matrix4 {
	var out Matrix4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float32
			for i := 0; i < 4; i++ {
				sum += float32(a[r][i] * b[i][c])
			}
			out[r][c] = sum
		}
	}
	return out
}

// IsIdentity reports exact element-wise equality with Identity.
func (m Matrix4) IsIdentity() bool {
	return m == Identity()
}

// Transform converts the matrix to its output form.
func (m Matrix4) Transform() Transform {
	row := func(r int) Vector4f {
		return Vector4f{X: m[r][0], Y: m[r][1], Z: m[r][2], W: m[r][3]}
	}
	return Transform{R0: row(0), R1: row(1), R2: row(2), R3: row(3)}
}

// Matrix converts an output transform back to a matrix.
func (t Transform) Matrix() Matrix4 {
	row := func(v Vector4f) [4]float32 { return [4]float32{v.X, v.Y, v.Z, v.W} }
	return Matrix4{row(t.R0), row(t.R1), row(t.R2), row(t.R3)}
}
