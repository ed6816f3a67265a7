package pvs

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// DefaultRotationTolerance is used by CheckRotations when tol <= 0.
const DefaultRotationTolerance float32 = 1e-4

// RotationWarning flags an instance whose orientation is not a proper or
// improper rotation. Warnings never affect flattening.
type RotationWarning struct {
	Component   int
	Name        string
	InstanceID  string
	Determinant float32
	Message     string
}

func (w RotationWarning) String() string {
	return fmt.Sprintf("component[%d] %q instance %s: %s", w.Component, w.Name, w.InstanceID, w.Message)
}

// CheckRotations inspects every explicit orientation in doc and reports those
// that are not orthonormal with determinant ±1 within tol.
func CheckRotations(doc Document, tol float32) []RotationWarning {
	if tol <= 0 {
		tol = DefaultRotationTolerance
	}
	var out []RotationWarning
	for i, comp := range doc.Components() {
		for _, inst := range comp.Instances {
			if inst.Orientation == nil {
				continue
			}
			w := RotationWarning{Component: i, Name: comp.Name, InstanceID: inst.ID}
			o, err := ParseOrientation(*inst.Orientation)
			if err != nil {
				w.Message = err.Error()
				out = append(out, w)
				continue
			}
			m := mgl32.Mat3FromRows(
				mgl32.Vec3{o[0], o[1], o[2]},
				mgl32.Vec3{o[3], o[4], o[5]},
				mgl32.Vec3{o[6], o[7], o[8]},
			)
			w.Determinant = m.Det()
			within := func(a, b float32) bool { return mgl32.Abs(a-b) <= tol }
			switch {
			case !within(mgl32.Abs(w.Determinant), 1):
				w.Message = fmt.Sprintf("determinant %g is not ±1", w.Determinant)
			case !m.Mul3(m.Transpose()).ApproxFuncEqual(mgl32.Ident3(), within):
				w.Message = "rows are not orthonormal"
			default:
				continue
			}
			out = append(out, w)
		}
	}
	return out
}
