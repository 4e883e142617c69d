package calib

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ProjectionKey is the calibration entry holding the left color camera projection.
const ProjectionKey = "P2"

// Error is returned when the calibration record cannot yield a projection matrix.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("calibration error: %s: %s", e.Key, e.Reason)
}

// Entries parses `KEY: v1 v2 ... vn` lines. Lines without a colon or with a
// value that is not a real number are skipped.
func Entries(text string) map[string][]float64 {
	data := make(map[string][]float64)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r \t")
		if len(line) == 0 {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(value)
		values := make([]float64, 0, len(fields))
		valid := true
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				valid = false
				break
			}
			values = append(values, v)
		}
		if !valid {
			continue
		}
		data[strings.TrimSpace(key)] = values
	}
	return data
}

// Parse extracts the 3x4 P2 projection matrix, row-major.
func Parse(text string) (*mat.Dense, error) {
	values, ok := Entries(text)[ProjectionKey]
	if !ok {
		return nil, &Error{Key: ProjectionKey, Reason: "entry not found"}
	}
	if len(values) != 12 {
		return nil, &Error{Key: ProjectionKey, Reason: fmt.Sprintf("expected 12 values, got %d", len(values))}
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &Error{Key: ProjectionKey, Reason: fmt.Sprintf("value %d is not finite", i)}
		}
	}
	return mat.NewDense(3, 4, values), nil
}

// ParseFile reads a calibration file from disk.
func ParseFile(path string) (*mat.Dense, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read calibration %s", path)
	}
	return Parse(string(b))
}
