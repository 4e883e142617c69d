// Package render draws fusion results on BGR frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"FusionServer/geometry"
	iface "FusionServer/interface"
	"FusionServer/object"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	Box2DColor    = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	Box3DColor    = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	DistanceColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	DetectColor   = color.RGBA{R: 0, G: 128, B: 255, A: 0}
)

const (
	distanceScale     = 0.5
	distanceThickness = 2
)

func pt(x, y float64) image.Point {
	return image.Pt(int(math.Round(x)), int(math.Round(y)))
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// DrawBox2D draws an axis-aligned (x_min, y_min, x_max, y_max) box.
func DrawBox2D(img *gocv.Mat, box [4]float64, c color.RGBA, thickness int) {
	if !finite(box[:]...) {
		return
	}
	gocv.Rectangle(img, image.Rectangle{Min: pt(box[0], box[1]), Max: pt(box[2], box[3])}, c, thickness)
}

// DrawBox3D draws the twelve edges of an 8×2 corner matrix.
func DrawBox3D(img *gocv.Mat, corners [][2]float64, c color.RGBA, thickness int) {
	if len(corners) != 8 {
		return
	}
	for _, e := range geometry.Edges() {
		a, b := corners[e[0]], corners[e[1]]
		if !finite(a[0], a[1], b[0], b[1]) {
			continue
		}
		gocv.Line(img, pt(a[0], a[1]), pt(b[0], b[1]), c, thickness)
	}
}

// Box2D reads the 1×4 box of an annotated object.
func Box2D(obj *object.Object3D) ([4]float64, bool) {
	var box [4]float64
	if obj.BBox2D == nil {
		return box, false
	}
	if r, c := obj.BBox2D.Dims(); r != 1 || c != 4 {
		return box, false
	}
	copy(box[:], obj.BBox2D.RawRowView(0))
	return box, true
}

// Corners reads the projected corners of an annotated object.
func Corners(obj *object.Object3D) ([][2]float64, bool) {
	if obj.BBox3D == nil {
		return nil, false
	}
	r, _ := obj.BBox3D.Dims()
	out := make([][2]float64, r)
	for i := range out {
		out[i] = [2]float64{obj.BBox3D.At(i, 0), obj.BBox3D.At(i, 1)}
	}
	return out, true
}

// AnnotateAll returns two clones of img: 2D boxes on the first, 3D wireframes
// on the second, for every object that projected. The caller closes both.
func AnnotateAll(img gocv.Mat, objects []*object.Object3D) (gocv.Mat, gocv.Mat) {
	img2D, img3D := img.Clone(), img.Clone()
	for _, obj := range objects {
		corners, ok := Corners(obj)
		if !ok {
			continue
		}
		if box, ok := Box2D(obj); ok {
			DrawBox2D(&img2D, box, Box2DColor, 2)
		}
		DrawBox3D(&img3D, corners, Box3DColor, 2)
	}
	return img2D, img3D
}

// DrawDistance writes "N.Nm" centered below the bottom edge of box.
func DrawDistance(img *gocv.Mat, box [4]float64, meters float64) {
	if !finite(box[:]...) || !finite(meters) {
		return
	}
	text := fmt.Sprintf("%.1fm", meters)
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, distanceScale, distanceThickness)
	x := int(math.Round((box[0]+box[2])/2)) - size.X/2
	y := int(math.Round(box[3])) + size.Y + 5
	gocv.PutText(img, text, image.Pt(x, y), gocv.FontHersheySimplex, distanceScale, DistanceColor, distanceThickness)
}

// DrawDetections draws detector results with "name conf" labels.
func DrawDetections(img *gocv.Mat, results []iface.Result) {
	for _, r := range results {
		rect := image.Rect(int(r.Box.LT.X), int(r.Box.LT.Y), int(r.Box.RB.X), int(r.Box.RB.Y))
		gocv.Rectangle(img, rect, DetectColor, 2)
		label := fmt.Sprintf("%s %.2f", r.Name, r.Conf)
		org := image.Pt(rect.Min.X, max(rect.Min.Y-4, 10))
		gocv.PutText(img, label, org, gocv.FontHersheySimplex, 0.4, DetectColor, 1)
	}
}

// EncodePNG encodes img as PNG.
func EncodePNG(img gocv.Mat) ([]byte, error) {
	if img.Empty() {
		return nil, errors.New("cannot encode empty image")
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Decode reads an encoded image into a BGR Mat.
// ErrEmptyImage is returned when OpenCV decodes nothing from the upload.
var ErrEmptyImage = errors.New("decoded image is empty or unsupported format")

func Decode(data []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return img, errors.Wrap(err, "decode image")
	}
	if img.Empty() {
		_ = img.Close()
		return gocv.NewMat(), ErrEmptyImage
	}
	return img, nil
}
