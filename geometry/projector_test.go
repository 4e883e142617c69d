package geometry

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"FusionServer/object"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	identityP = mat.NewDense(3, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0})
	kittiP    = mat.NewDense(3, 4, []float64{
		721.5377, 0, 609.5593, 44.85728,
		0, 721.5377, 172.854, 0.2163791,
		0, 0, 1, 0.002745884,
	})
)

func newProjector(t *testing.T, p mat.Matrix) *Projector {
	t.Helper()
	pr, err := NewProjector(p)
	require.NoError(t, err)
	return pr
}

func TestNewProjector(t *testing.T) {
	_, err := NewProjector(mat.NewDense(3, 3, nil))
	assert.Error(t, err)

	p := mat.DenseCopyOf(identityP)
	pr := newProjector(t, p)
	p.Set(0, 0, 2)
	assert.True(t, mat.Equal(identityP, pr.Matrix()), "projector keeps its own copy")
}

func TestProject(t *testing.T) {
	pr := newProjector(t, kittiP)
	pts := mat.NewDense(2, 3, []float64{
		0, 0, 10,
		1, -1, 20,
	})
	out := pr.Project(pts)
	r, c := out.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 2, c)

	w := 10 + 0.002745884
	assert.InDelta(t, (609.5593*10+44.85728)/w, out.At(0, 0), 1e-9)
	assert.InDelta(t, (172.854*10+0.2163791)/w, out.At(0, 1), 1e-9)

	t.Run("zero depth", func(t *testing.T) {
		out := newProjector(t, identityP).Project(mat.NewDense(1, 3, []float64{1, 0, 0}))
		assert.True(t, math.IsInf(out.At(0, 0), 1))
		assert.True(t, math.IsNaN(out.At(0, 1)))
	})
}

func TestCorners3D(t *testing.T) {
	pose := object.Pose{H: 2, W: 1, L: 4, Location: r3.Vec{X: 1, Y: 2, Z: 10}}
	c := Corners3D(pose)
	// bottom face at the ground point, top face h above it (negative y).
	for k := 0; k < 4; k++ {
		assert.InDelta(t, 2.0, c.At(1, k), 1e-12)
		assert.InDelta(t, 0.0, c.At(1, k+4), 1e-12)
		assert.InDelta(t, c.At(0, k), c.At(0, k+4), 1e-12)
		assert.InDelta(t, c.At(2, k), c.At(2, k+4), 1e-12)
	}
	assert.InDelta(t, 3.0, c.At(0, 0), 1e-12)
	assert.InDelta(t, 10.5, c.At(2, 0), 1e-12)
	assert.InDelta(t, 9.5, c.At(2, 1), 1e-12)
	assert.InDelta(t, -1.0, c.At(0, 2), 1e-12)

	t.Run("quarter turn swaps axes", func(t *testing.T) {
		pose.Heading = math.Pi / 2
		c := Corners3D(pose)
		// R(pi/2) maps (x, z) to (z, -x).
		assert.InDelta(t, 1+0.5, c.At(0, 0), 1e-12)
		assert.InDelta(t, 10-2, c.At(2, 0), 1e-12)
	})
}

func TestComputeBox3D(t *testing.T) {
	pr := newProjector(t, identityP)

	t.Run("in front of camera", func(t *testing.T) {
		box, err := pr.ComputeBox3D(object.Pose{H: 1, W: 1, L: 1, Location: r3.Vec{Z: 5}})
		require.NoError(t, err)
		r, c := box.Dims()
		require.Equal(t, 8, r)
		require.Equal(t, 2, c)
		assert.InDelta(t, 0.5/5.5, box.At(0, 0), 1e-12)
		assert.InDelta(t, 0.0, box.At(0, 1), 1e-12)
		assert.InDelta(t, -1/5.5, box.At(4, 1), 1e-12)

		b := Project8To4(box)
		for _, v := range b {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
		assert.GreaterOrEqual(t, b[0], 0.0)
		assert.GreaterOrEqual(t, b[1], 0.0)
		assert.InDelta(t, 0.5/4.5, b[2], 1e-12)
	})

	t.Run("too close", func(t *testing.T) {
		box, err := pr.ComputeBox3D(object.Pose{H: 1, W: 1, L: 1, Location: r3.Vec{Z: 0.05}})
		assert.Nil(t, box)
		assert.True(t, errors.Is(err, ErrDegenerate))
	})

	t.Run("threshold", func(t *testing.T) {
		// nearest corner at 0.125 is accepted, at 0.099 it is rejected
		_, err := pr.ComputeBox3D(object.Pose{H: 1, W: 1, L: 1, Location: r3.Vec{Z: 0.625}})
		assert.NoError(t, err)
		_, err = pr.ComputeBox3D(object.Pose{H: 1, W: 1, L: 1, Location: r3.Vec{Z: 0.599}})
		assert.ErrorIs(t, err, ErrDegenerate)
	})

	t.Run("behind camera", func(t *testing.T) {
		_, err := pr.ComputeBox3D(object.Pose{H: 1.5, W: 1.6, L: 3.9, Location: r3.Vec{X: 2, Y: 1.6, Z: -8}})
		assert.ErrorIs(t, err, ErrDegenerate)
	})
}

func TestProject8To4(t *testing.T) {
	pts := mat.NewDense(8, 2, []float64{
		-5, 10,
		20, 12,
		3, -7,
		4, 40,
		0, 0,
		1, 1,
		2, 2,
		3, 3,
	})
	assert.Equal(t, [4]float64{0, 0, 20, 40}, Project8To4(pts))

	t.Run("left of the frame", func(t *testing.T) {
		pts := mat.NewDense(2, 2, []float64{-30, 5, -10, 15})
		b := Project8To4(pts)
		assert.Equal(t, [4]float64{0, 5, 0, 15}, b)
	})
}

func TestBoxInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pr := newProjector(t, kittiP)
	accepted := 0
	for i := 0; i < 2000; i++ {
		pose := object.Pose{
			H:        0.5 + rng.Float64()*3,
			W:        0.5 + rng.Float64()*3,
			L:        0.5 + rng.Float64()*10,
			Location: r3.Vec{X: rng.Float64()*40 - 20, Y: rng.Float64()*4 - 2, Z: rng.Float64()*60 - 10},
			Heading:  rng.Float64()*2*math.Pi - math.Pi,
		}
		box, err := pr.ComputeBox3D(pose)
		corners := Corners3D(pose)
		minDepth := math.Inf(1)
		for c := 0; c < 8; c++ {
			minDepth = math.Min(minDepth, corners.At(2, c))
		}
		if minDepth < MinDepth {
			assert.ErrorIs(t, err, ErrDegenerate)
			continue
		}
		require.NoError(t, err)
		accepted++

		b := Project8To4(box)
		assert.LessOrEqual(t, b[0], b[2])
		assert.LessOrEqual(t, b[1], b[3])
		assert.GreaterOrEqual(t, b[0], 0.0)
		assert.GreaterOrEqual(t, b[1], 0.0)
	}
	assert.Greater(t, accepted, 100)
}

func TestEdges(t *testing.T) {
	edges := Edges()
	seen := map[[2]int]bool{}
	for _, e := range edges {
		assert.False(t, seen[e], "duplicate edge %v", e)
		seen[e] = true
	}
	assert.True(t, seen[[2]int{3, 0}])
	assert.True(t, seen[[2]int{7, 4}])
	assert.True(t, seen[[2]int{2, 6}])
	assert.Len(t, seen, 12)
}

func TestAnnotateAll(t *testing.T) {
	pr := newProjector(t, identityP)
	near := object.NewLidarObject("Car", object.Pose{H: 1, W: 1, L: 1, Location: r3.Vec{Z: 0.05}})
	far := object.NewLidarObject("Car", object.Pose{H: 1, W: 1, L: 1, Location: r3.Vec{Z: 5}})
	img := object.NewImageObject("YOLO_0", 0.9, [4]float64{1, 2, 3, 4})

	diags := pr.AnnotateAll([]*object.Object3D{near, far, img})
	require.Len(t, diags, 1)
	assert.Equal(t, object.StageGeometry, diags[0].Stage)
	assert.Equal(t, 0, diags[0].Index)

	assert.Nil(t, near.BBox3D)
	r, c := near.BBox2D.Dims()
	assert.Equal(t, [2]int{2, 2}, [2]int{r, c})

	require.NotNil(t, far.BBox3D)
	r, c = far.BBox2D.Dims()
	assert.Equal(t, [2]int{1, 4}, [2]int{r, c})

	assert.Nil(t, img.BBox3D)
	assert.Equal(t, []float64{1, 2, 3, 4}, img.BBox2D.RawRowView(0))
}
