package fusion

import (
	"fmt"
	"math"

	"FusionServer/object"

	"gonum.org/v1/gonum/mat"
)

// MaxJSONFloat bounds every emitted magnitude.
const MaxJSONFloat = 1e308

// FusedObject is the serialized form of one fused record.
type FusedObject struct {
	BBox2D     []float64    `json:"bbox2d"`
	BBox3D     [][2]float64 `json:"bbox3d"`
	Category   string       `json:"category"`
	Confidence float64      `json:"confidence"`
	Distance   float64      `json:"distance"`
	Position   [3]float64   `json:"position"`
}

// SafeFloat replaces NaN and ±Inf with 0 and clamps to ±MaxJSONFloat.
func SafeFloat(v float64) float64 {
	f, _ := safeFloat(v)
	return f
}

func safeFloat(v float64) (float64, bool) {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return 0, true
	case v > MaxJSONFloat:
		return MaxJSONFloat, true
	case v < -MaxJSONFloat:
		return -MaxJSONFloat, true
	}
	return v, false
}

type emitter struct {
	normalized int
}

func (e *emitter) f(v float64) float64 {
	out, changed := safeFloat(v)
	if changed {
		e.normalized++
	}
	return out
}

// Emit converts an object to its serialized form and reports how many values
// had to be normalized.
func Emit(obj *object.Object3D) (FusedObject, int) {
	e := &emitter{}
	out := FusedObject{
		BBox2D:     e.flat(obj.BBox2D),
		BBox3D:     [][2]float64{},
		Category:   obj.Category,
		Confidence: e.f(obj.Confidence),
	}
	if obj.BBox3D != nil {
		r, _ := obj.BBox3D.Dims()
		for i := 0; i < r; i++ {
			out.BBox3D = append(out.BBox3D, [2]float64{e.f(obj.BBox3D.At(i, 0)), e.f(obj.BBox3D.At(i, 1))})
		}
	}
	if d, ok := obj.Distance(); ok {
		out.Distance = e.f(d)
	}
	if pose, ok := obj.Pose(); ok {
		out.Position = [3]float64{e.f(pose.Location.X), e.f(pose.Location.Y), e.f(pose.Location.Z)}
	}
	return out, e.normalized
}

func (e *emitter) flat(m *mat.Dense) []float64 {
	if m == nil || m.IsEmpty() {
		return make([]float64, 4)
	}
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, e.f(m.At(i, j)))
		}
	}
	return out
}

// EmitAll serializes the fused list. Normalized values are reported, not dropped.
func EmitAll(objects []*object.Object3D) ([]FusedObject, []object.Diagnostic) {
	out := make([]FusedObject, 0, len(objects))
	var diags []object.Diagnostic
	for i, obj := range objects {
		fo, n := Emit(obj)
		if n > 0 {
			diags = append(diags, object.Diagnostic{
				Stage:  object.StageSerialization,
				Index:  i,
				Reason: fmt.Sprintf("%d non-finite or out of range values normalized", n),
			})
		}
		out = append(out, fo)
	}
	return out, diags
}

// AsMap returns the object as plain maps and slices, the shape structpb accepts.
func (f FusedObject) AsMap() map[string]any {
	bbox2d := make([]any, len(f.BBox2D))
	for i, v := range f.BBox2D {
		bbox2d[i] = v
	}
	bbox3d := make([]any, len(f.BBox3D))
	for i, p := range f.BBox3D {
		bbox3d[i] = []any{p[0], p[1]}
	}
	return map[string]any{
		"bbox2d":     bbox2d,
		"bbox3d":     bbox3d,
		"category":   f.Category,
		"confidence": f.Confidence,
		"distance":   f.Distance,
		"position":   []any{f.Position[0], f.Position[1], f.Position[2]},
	}
}
