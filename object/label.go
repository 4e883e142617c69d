package object

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// DontCare marks label regions that carry no object.
const DontCare = "DontCare"

// labelFields is the minimum field count of a KITTI object line.
const labelFields = 15

// MalformedRecordError reports a label line or detection tuple that could not be parsed.
type MalformedRecordError struct {
	Index  int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %d: %s", e.Index, e.Reason)
}

// ParseLine parses one label line:
// category trunc occl alpha x1 y1 x2 y2 h w l x y z ry [score]
func ParseLine(line string) (*Object3D, error) {
	fields := strings.Fields(line)
	if len(fields) < labelFields {
		return nil, &MalformedRecordError{Reason: fmt.Sprintf("expected at least %d fields, got %d", labelFields, len(fields))}
	}
	data := make([]float64, len(fields))
	for i := 1; i < len(fields); i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, &MalformedRecordError{Reason: fmt.Sprintf("field %d: %q is not a number", i, fields[i])}
		}
		data[i] = v
	}
	pose := Pose{
		H:        data[8],
		W:        data[9],
		L:        data[10],
		Location: r3.Vec{X: data[11], Y: data[12], Z: data[13]},
		Heading:  data[14],
	}
	return NewLidarObject(fields[0], pose), nil
}

// ParseLabels parses a label file body. DontCare and blank lines are ignored,
// malformed lines are skipped and reported.
func ParseLabels(text string) ([]*Object3D, []Diagnostic) {
	var objects []*Object3D
	var diags []Diagnostic
	for i, line := range splitLines(text) {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] == DontCare {
			continue
		}
		obj, err := ParseLine(line)
		if err != nil {
			var mr *MalformedRecordError
			if errors.As(err, &mr) {
				mr.Index = i + 1
			}
			diags = append(diags, Diagnostic{Stage: StageLabel, Index: i + 1, Reason: err.Error()})
			continue
		}
		objects = append(objects, obj)
	}
	return objects, diags
}

// ReadLabels reads and parses a label file.
func ReadLabels(path string) ([]*Object3D, []Diagnostic, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read labels %s", path)
	}
	objects, diags := ParseLabels(string(b))
	return objects, diags, nil
}

// splitLines splits on '\n' and drops the '\r' of CRLF files.
func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	for i := range raw {
		raw[i] = strings.TrimRight(raw[i], "\r")
	}
	return raw
}
