package object

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Kind tells which sensor produced an object.
type Kind int

const (
	Lidar Kind = iota + 1
	Image
)

func (k Kind) String() string {
	switch k {
	case Lidar:
		return "lidar"
	case Image:
		return "image"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Pose is the 3D extent and placement of a LiDAR object in camera coordinates.
// Location is the bottom center of the box; Heading rotates about the camera Y axis.
type Pose struct {
	H, W, L  float64
	Location r3.Vec
	Heading  float64
}

// Object3D is one fused record. The variant is fixed by the constructor:
// LiDAR objects carry a Pose, image objects carry only a 2D box and confidence.
type Object3D struct {
	Category   string
	Confidence float64

	// BBox2D is either the 2x2 placeholder [[xmin ymin] [xmax ymax]] or a 1x4
	// row (xmin, ymin, xmax, ymax).
	BBox2D *mat.Dense
	// BBox3D holds the 8 projected corners (8x2), nil when projection failed.
	BBox3D *mat.Dense

	kind        Kind
	pose        Pose
	distance    float64
	hasDistance bool
}

// NewLidarObject builds a LiDAR-sourced object with ground truth confidence.
func NewLidarObject(category string, pose Pose) *Object3D {
	return &Object3D{
		Category:   category,
		Confidence: 1.0,
		BBox2D:     mat.NewDense(2, 2, nil),
		kind:       Lidar,
		pose:       pose,
	}
}

// NewImageObject builds an image-sourced object from a detector box.
func NewImageObject(category string, confidence float64, box [4]float64) *Object3D {
	return &Object3D{
		Category:   category,
		Confidence: confidence,
		BBox2D:     mat.NewDense(1, 4, box[:]),
		kind:       Image,
	}
}

func (o *Object3D) Kind() Kind { return o.kind }

// Pose returns the 3D pose and true for LiDAR objects.
func (o *Object3D) Pose() (Pose, bool) {
	return o.pose, o.kind == Lidar
}

// SetDistance records the camera distance. Only LiDAR objects accept one.
func (o *Object3D) SetDistance(d float64) bool {
	if o.kind != Lidar {
		return false
	}
	o.distance = d
	o.hasDistance = true
	return true
}

func (o *Object3D) Distance() (float64, bool) {
	return o.distance, o.hasDistance
}

func (o *Object3D) String() string {
	if p, ok := o.Pose(); ok {
		return fmt.Sprintf("%s %s (h=%.2f w=%.2f l=%.2f t=(%.2f, %.2f, %.2f) ry=%.2f)",
			o.kind, o.Category, p.H, p.W, p.L, p.Location.X, p.Location.Y, p.Location.Z, p.Heading)
	}
	return fmt.Sprintf("%s %s (confidence %f)", o.kind, o.Category, o.Confidence)
}
