package fusion

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"FusionServer/object"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ImageCategoryPrefix prefixes the class id of image-only detections.
const ImageCategoryPrefix = "YOLO_"

// DetectionTuple is one detector output (x1, y1, x2, y2, classId, confidence)
// as received, before validation.
type DetectionTuple []any

// Assemble concatenates the LiDAR objects and the image detections. Objects
// whose bbox2d is neither 1x4 nor 2x2 are dropped, 2x2 boxes are flattened
// row-major. Malformed tuples are skipped. No cross-modal matching is done.
func Assemble(objects []*object.Object3D, tuples []DetectionTuple) ([]*object.Object3D, []object.Diagnostic) {
	fused := make([]*object.Object3D, 0, len(objects)+len(tuples))
	var diags []object.Diagnostic

	for i, obj := range objects {
		box, err := flattenBox(obj.BBox2D)
		if err != nil {
			diags = append(diags, object.Diagnostic{Stage: object.StageAssemble, Index: i, Reason: err.Error()})
			continue
		}
		obj.BBox2D = box
		fused = append(fused, obj)
	}

	for i, t := range tuples {
		obj, err := ParseDetection(t)
		if err != nil {
			var mr *object.MalformedRecordError
			if errors.As(err, &mr) {
				mr.Index = i
			}
			diags = append(diags, object.Diagnostic{Stage: object.StageDetection, Index: i, Reason: err.Error()})
			continue
		}
		fused = append(fused, obj)
	}
	return fused, diags
}

func flattenBox(b *mat.Dense) (*mat.Dense, error) {
	if b == nil || b.IsEmpty() {
		return nil, fmt.Errorf("missing bbox2d")
	}
	r, c := b.Dims()
	switch {
	case r == 1 && c == 4:
		return b, nil
	case r == 2 && c == 2:
		return mat.NewDense(1, 4, []float64{b.At(0, 0), b.At(0, 1), b.At(1, 0), b.At(1, 1)}), nil
	default:
		return nil, fmt.Errorf("unexpected bbox2d shape %dx%d", r, c)
	}
}

// ParseDetection builds an image object from a detection tuple.
func ParseDetection(t DetectionTuple) (*object.Object3D, error) {
	if len(t) != 6 {
		return nil, &object.MalformedRecordError{Reason: fmt.Sprintf("expected 6 values, got %d", len(t))}
	}
	var box [4]float64
	for i := 0; i < 4; i++ {
		v, err := toFloat(t[i])
		if err != nil {
			return nil, &object.MalformedRecordError{Reason: fmt.Sprintf("coordinate %d: %v", i, err)}
		}
		box[i] = v
	}
	conf, err := toFloat(t[5])
	if err != nil {
		return nil, &object.MalformedRecordError{Reason: fmt.Sprintf("confidence: %v", err)}
	}
	category := ImageCategoryPrefix + formatClassID(t[4])
	return object.NewImageObject(category, conf, box), nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

func formatClassID(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	case float32:
		return formatClassID(float64(n))
	case json.Number:
		return n.String()
	default:
		return fmt.Sprint(v)
	}
}
