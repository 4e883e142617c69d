package geometry

import (
	"fmt"
	"math"

	"FusionServer/object"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MinDepth is the closest camera depth, in meters, a box corner may have.
const MinDepth = 0.1

// ErrDegenerate is returned when a box corner lies behind or too close to the camera.
var ErrDegenerate = errors.New("degenerate geometry")

// Projector maps camera-frame points to pixels with a 3x4 pinhole matrix.
type Projector struct {
	p *mat.Dense
}

// NewProjector copies P, which must be 3x4.
func NewProjector(p mat.Matrix) (*Projector, error) {
	r, c := p.Dims()
	if r != 3 || c != 4 {
		return nil, fmt.Errorf("projection matrix must be 3x4, got %dx%d", r, c)
	}
	return &Projector{p: mat.DenseCopyOf(p)}, nil
}

// Matrix returns P.
func (pr *Projector) Matrix() mat.Matrix { return pr.p }

// Project projects N camera-frame points (Nx3) to Nx2 pixel coordinates.
// A zero depth yields ±Inf or NaN in that row.
func (pr *Projector) Project(points mat.Matrix) *mat.Dense {
	n, _ := points.Dims()
	if n == 0 {
		return &mat.Dense{}
	}
	ext := mat.NewDense(n, 4, nil)
	for i := 0; i < n; i++ {
		ext.Set(i, 0, points.At(i, 0))
		ext.Set(i, 1, points.At(i, 1))
		ext.Set(i, 2, points.At(i, 2))
		ext.Set(i, 3, 1)
	}
	var hom mat.Dense
	hom.Mul(ext, pr.p.T())

	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		w := hom.At(i, 2)
		out.Set(i, 0, hom.At(i, 0)/w)
		out.Set(i, 1, hom.At(i, 1)/w)
	}
	return out
}

// RotY is the rotation about the camera Y axis.
func RotY(t float64) *mat.Dense {
	c, s := math.Cos(t), math.Sin(t)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

// Corners3D returns the 8 camera-frame box corners as a 3x8 matrix. Columns
// 0-3 are the bottom face, 4-7 the top face.
func Corners3D(pose object.Pose) *mat.Dense {
	l, w, h := pose.L, pose.W, pose.H
	offsets := mat.NewDense(3, 8, []float64{
		l / 2, l / 2, -l / 2, -l / 2, l / 2, l / 2, -l / 2, -l / 2,
		0, 0, 0, 0, -h, -h, -h, -h,
		w / 2, -w / 2, -w / 2, w / 2, w / 2, -w / 2, -w / 2, w / 2,
	})
	var corners mat.Dense
	corners.Mul(RotY(pose.Heading), offsets)
	t := [3]float64{pose.Location.X, pose.Location.Y, pose.Location.Z}
	for r := 0; r < 3; r++ {
		for c := 0; c < 8; c++ {
			corners.Set(r, c, corners.At(r, c)+t[r])
		}
	}
	return &corners
}

// ComputeBox3D projects the 8 corners of the box to an 8x2 matrix, keeping
// vertex order. It returns ErrDegenerate if any corner depth is below MinDepth.
func (pr *Projector) ComputeBox3D(pose object.Pose) (*mat.Dense, error) {
	corners := Corners3D(pose)
	for c := 0; c < 8; c++ {
		if z := corners.At(2, c); z < MinDepth || math.IsNaN(z) {
			return nil, errors.Wrapf(ErrDegenerate, "corner %d depth %.3f", c, z)
		}
	}
	return pr.Project(corners.T()), nil
}

// Project8To4 reduces projected corners to (xmin, ymin, xmax, ymax). The
// minimum is clipped at the image origin; the maximum is not clipped to the
// frame size, only raised to the minimum for boxes left of or above the origin.
func Project8To4(pts mat.Matrix) [4]float64 {
	n, _ := pts.Dims()
	x0, y0 := math.Inf(1), math.Inf(1)
	x1, y1 := math.Inf(-1), math.Inf(-1)
	for i := 0; i < n; i++ {
		x, y := pts.At(i, 0), pts.At(i, 1)
		x0 = math.Min(x0, x)
		x1 = math.Max(x1, x)
		y0 = math.Min(y0, y)
		y1 = math.Max(y1, y)
	}
	x0, y0 = math.Max(0, x0), math.Max(0, y0)
	return [4]float64{x0, y0, math.Max(x0, x1), math.Max(y0, y1)}
}

// Edges lists the 12 vertex pairs of a projected box.
func Edges() [12][2]int {
	var edges [12][2]int
	for k := 0; k < 4; k++ {
		edges[3*k] = [2]int{k, (k + 1) % 4}
		edges[3*k+1] = [2]int{k + 4, (k+1)%4 + 4}
		edges[3*k+2] = [2]int{k, k + 4}
	}
	return edges
}

// AnnotateAll fills BBox3D and BBox2D of every LiDAR object that projects.
// Objects that do not are kept untouched and reported.
func (pr *Projector) AnnotateAll(objects []*object.Object3D) []object.Diagnostic {
	var diags []object.Diagnostic
	for i, obj := range objects {
		pose, ok := obj.Pose()
		if !ok {
			continue
		}
		box, err := pr.ComputeBox3D(pose)
		if err != nil {
			diags = append(diags, object.Diagnostic{Stage: object.StageGeometry, Index: i, Reason: err.Error()})
			continue
		}
		b := Project8To4(box)
		obj.BBox3D = box
		obj.BBox2D = mat.NewDense(1, 4, b[:])
	}
	return diags
}
