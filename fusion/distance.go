package fusion

import (
	"math"

	"FusionServer/object"

	"gonum.org/v1/gonum/spatial/r3"
)

// Distance is the radial range from the camera origin to a LiDAR object.
// Image objects have no location and get +Inf.
func Distance(obj *object.Object3D) float64 {
	pose, ok := obj.Pose()
	if !ok {
		return math.Inf(1)
	}
	return r3.Norm(pose.Location)
}

// AnnotateDistances sets the distance of every LiDAR object.
func AnnotateDistances(objects []*object.Object3D) {
	for _, obj := range objects {
		if obj.Kind() != object.Lidar {
			continue
		}
		obj.SetDistance(Distance(obj))
	}
}
