package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// maxCount bounds COUNT so a record stride always fits an int.
const maxCount = 1 << 16

// Header is the PCD v0.7 header.
type Header struct {
	Version string
	Fields  []string
	Size    []int
	Type    []string
	Count   []int
	Width   int
	Height  int
	Points  int
	Data    string
}

func (h *Header) offset(field string) (int, int, string, bool) {
	off := 0
	for i, f := range h.Fields {
		if f == field {
			return off, h.Size[i], h.Type[i], true
		}
		off += h.Size[i] * h.Count[i]
	}
	return 0, 0, "", false
}

func (h *Header) stride() int {
	n := 0
	for i := range h.Fields {
		n += h.Size[i] * h.Count[i]
	}
	return n
}

func (h *Header) column(field string) int {
	col := 0
	for i, f := range h.Fields {
		if f == field {
			return col
		}
		col += h.Count[i]
	}
	return -1
}

// Parse reads a PCD file with ascii or binary data and returns the finite
// x, y, z points.
func Parse(data []byte) ([]r3.Vec, *Header, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	h, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}
	var pts []r3.Vec
	switch h.Data {
	case "ascii":
		pts, err = readASCII(r, h)
	case "binary":
		pts, err = readBinary(r, h, len(data))
	default:
		return nil, h, fmt.Errorf("unsupported PCD data encoding %q", h.Data)
	}
	if err != nil {
		return nil, h, err
	}
	return finite(pts), h, nil
}

// ReadFile parses a PCD file from disk.
func ReadFile(path string) ([]r3.Vec, *Header, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read point cloud %s", path)
	}
	return Parse(b)
}

func readHeader(r *bufio.Reader) (*Header, error) {
	h := &Header{}
	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return nil, errors.Wrap(err, "PCD header truncated")
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		key, vals := strings.ToUpper(fields[0]), fields[1:]
		switch key {
		case "VERSION":
			if len(vals) > 0 {
				h.Version = vals[0]
			}
		case "FIELDS":
			h.Fields = vals
		case "SIZE":
			if h.Size, err = atois(vals); err != nil {
				return nil, errors.Wrap(err, "SIZE")
			}
		case "TYPE":
			h.Type = vals
		case "COUNT":
			if h.Count, err = atois(vals); err != nil {
				return nil, errors.Wrap(err, "COUNT")
			}
		case "WIDTH", "HEIGHT", "POINTS":
			if len(vals) != 1 {
				return nil, fmt.Errorf("%s expects one value", key)
			}
			n, err := strconv.Atoi(vals[0])
			if err != nil {
				return nil, errors.Wrap(err, key)
			}
			switch key {
			case "WIDTH":
				h.Width = n
			case "HEIGHT":
				h.Height = n
			default:
				h.Points = n
			}
		case "VIEWPOINT":
		case "DATA":
			if len(vals) != 1 {
				return nil, fmt.Errorf("DATA expects one value")
			}
			h.Data = strings.ToLower(vals[0])
			return h, h.validate()
		default:
			return nil, fmt.Errorf("unknown PCD header key %q", fields[0])
		}
	}
}

func (h *Header) validate() error {
	if h.Count == nil {
		h.Count = make([]int, len(h.Fields))
		for i := range h.Count {
			h.Count[i] = 1
		}
	}
	if len(h.Size) != len(h.Fields) || len(h.Type) != len(h.Fields) || len(h.Count) != len(h.Fields) {
		return fmt.Errorf("PCD header FIELDS/SIZE/TYPE/COUNT lengths differ")
	}
	for i, f := range h.Fields {
		switch h.Size[i] {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("PCD field %s has SIZE %d", f, h.Size[i])
		}
		if h.Count[i] <= 0 || h.Count[i] > maxCount {
			return fmt.Errorf("PCD field %s has COUNT %d", f, h.Count[i])
		}
	}
	if h.Width < 0 || h.Height < 0 || h.Points < 0 {
		return fmt.Errorf("PCD header WIDTH %d HEIGHT %d POINTS %d must not be negative", h.Width, h.Height, h.Points)
	}
	if h.Points == 0 && h.Width > 0 {
		if h.Height > math.MaxInt/h.Width {
			return fmt.Errorf("PCD header WIDTH %d HEIGHT %d overflows", h.Width, h.Height)
		}
		h.Points = h.Width * h.Height
	}
	for _, f := range []string{"x", "y", "z"} {
		if _, _, _, ok := h.offset(f); !ok {
			return fmt.Errorf("PCD has no %q field", f)
		}
	}
	return nil
}

func readASCII(r *bufio.Reader, h *Header) ([]r3.Vec, error) {
	cx, cy, cz := h.column("x"), h.column("y"), h.column("z")
	var pts []r3.Vec
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		vals := strings.Fields(sc.Text())
		if len(vals) == 0 {
			continue
		}
		if len(vals) <= max(cx, cy, cz) {
			return nil, fmt.Errorf("PCD point %d has %d values", len(pts), len(vals))
		}
		var p [3]float64
		for i, c := range []int{cx, cy, cz} {
			v, err := strconv.ParseFloat(vals[c], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "PCD point %d", len(pts))
			}
			p[i] = v
		}
		pts = append(pts, r3.Vec{X: p[0], Y: p[1], Z: p[2]})
	}
	return pts, sc.Err()
}

// avail is the byte length of the whole upload; POINTS is never trusted for
// allocation beyond what the body can hold.
func readBinary(r *bufio.Reader, h *Header, avail int) ([]r3.Vec, error) {
	stride := h.stride()
	if stride > avail {
		return nil, fmt.Errorf("PCD record of %d bytes exceeds the %d byte upload", stride, avail)
	}
	buf := make([]byte, stride)
	type col struct {
		off, size int
		typ       string
	}
	var cols [3]col
	for i, f := range []string{"x", "y", "z"} {
		off, size, typ, _ := h.offset(f)
		if typ != "F" || (size != 4 && size != 8) {
			return nil, fmt.Errorf("PCD field %s must be F4 or F8, got %s%d", f, typ, size)
		}
		cols[i] = col{off, size, typ}
	}
	pts := make([]r3.Vec, 0, min(h.Points, avail/stride))
	for i := 0; i < h.Points; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrapf(err, "PCD point %d", i)
		}
		var p [3]float64
		for j, c := range cols {
			b := buf[c.off : c.off+c.size]
			if c.size == 4 {
				p[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
			} else {
				p[j] = math.Float64frombits(binary.LittleEndian.Uint64(b))
			}
		}
		pts = append(pts, r3.Vec{X: p[0], Y: p[1], Z: p[2]})
	}
	return pts, nil
}

func finite(pts []r3.Vec) []r3.Vec {
	out := pts[:0]
	for _, p := range pts {
		if bad(p.X) || bad(p.Y) || bad(p.Z) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func bad(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

func atois(vals []string) ([]int, error) {
	out := make([]int, len(vals))
	for i, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
