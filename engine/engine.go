package engine

import (
	"fmt"
	"image"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	iface "FusionServer/interface"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const defaultInputSize = 640

// Detector runs a YOLOv8 ONNX export through the OpenCV DNN module.
// One Detector must not be used from two goroutines at once.
type Detector struct {
	ModelPath    string
	Names        []string
	Conf         float32
	Iou          float32
	UseGPU       bool
	InputSize    int
	State        int
	ErrorMessage string

	net gocv.Net
}

func (d *Detector) New() bool {
	d.State = REGISTERED
	return true
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{
		UseGPU:    d.UseGPU,
		ModelPath: d.ModelPath,
		Names:     iface.NamesConf{IsFile: false, Data: d.Names},
		Conf:      d.Conf,
		Iou:       d.Iou,
		InputSize: d.InputSize,
	}
}

func (d *Detector) LoadModel(cfg iface.EngineConfig) error {
	if d.State != REGISTERED && d.State != IDLE {
		return errors.New("detector not registered")
	}
	names, err := loadNames(cfg.Names)
	if err != nil {
		return err
	}
	if strings.ToLower(filepath.Ext(cfg.ModelPath)) != ".onnx" {
		return fmt.Errorf("LoadModel only supports .onnx, got %q", cfg.ModelPath)
	}
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		_ = net.Close()
		return fmt.Errorf("failed to load model %s", cfg.ModelPath)
	}
	if cfg.UseGPU {
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			_ = net.Close()
			return errors.Wrap(err, "set CUDA backend")
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			_ = net.Close()
			return errors.Wrap(err, "set CUDA target")
		}
	}
	if d.State == IDLE {
		_ = d.net.Close()
	}
	d.net = net
	d.Names = names
	d.ModelPath = cfg.ModelPath
	d.Conf = cfg.Conf
	d.Iou = cfg.Iou
	d.UseGPU = cfg.UseGPU
	d.InputSize = cfg.InputSize
	if d.InputSize <= 0 {
		d.InputSize = defaultInputSize
	}
	d.State = IDLE
	return nil
}

func loadNames(names iface.NamesConf) ([]string, error) {
	if names.Data == nil {
		return COCONames, nil
	}
	if names.IsFile {
		path, ok := names.Data.(string)
		if !ok {
			return nil, fmt.Errorf("names file must be a path, got %T", names.Data)
		}
		return ReadLinesReadFile(path)
	}
	rv := reflect.ValueOf(names.Data)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("names must be a slice or a file path, got %T", names.Data)
	}
	out := make([]string, rv.Len())
	for i := range out {
		s, ok := rv.Index(i).Interface().(string)
		if !ok {
			return nil, fmt.Errorf("name %d is not a string", i)
		}
		out[i] = s
	}
	if len(out) == 0 {
		return COCONames, nil
	}
	return out, nil
}

func (d *Detector) Destroy() {
	if d.State == IDLE || d.State == BUSY {
		_ = d.net.Close()
	}
	d.ModelPath = ""
	d.Conf = 0
	d.Iou = 0
	d.UseGPU = false
	d.InputSize = 0
	d.State = UNREGISTERED
}

func (d *Detector) Detect(img gocv.Mat) ([]iface.Result, error) {
	switch d.State {
	case IDLE:
	case REGISTERED:
		return nil, errors.New("model not loaded")
	case BUSY:
		return nil, errors.New("detector is busy")
	default:
		return nil, errors.New("detector not registered")
	}
	if img.Empty() {
		return nil, errors.New("empty image")
	}
	d.State = BUSY
	defer func() { d.State = IDLE }()

	// letterbox 到正方形，保持长宽比
	height, width := img.Rows(), img.Cols()
	maxDim := max(height, width)
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), maxDim, maxDim, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, width, height))
	img.CopyTo(&roi)
	_ = roi.Close()
	scale := float32(maxDim) / float32(d.InputSize)

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(d.InputSize, d.InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read output")
	}
	boxes, scores, classes := decodeYOLO(data, dims[1], dims[2], scale, d.Conf, image.Rect(0, 0, width, height))
	if len(boxes) == 0 {
		return []iface.Result{}, nil
	}
	indices := gocv.NMSBoxes(boxes, scores, d.Conf, d.Iou)
	results := make([]iface.Result, 0, len(indices))
	for _, idx := range indices {
		b := boxes[idx]
		results = append(results, iface.NewResult(classes[idx], d.className(classes[idx]), scores[idx],
			float32(b.Min.X), float32(b.Min.Y), float32(b.Max.X), float32(b.Max.Y)))
	}
	return results, nil
}

func (d *Detector) className(id int) string {
	if id >= 0 && id < len(d.Names) {
		return d.Names[id]
	}
	return strconv.Itoa(id)
}

// decodeYOLO reads a [1, 4+classes, anchors] YOLOv8 head. Each anchor holds
// cx, cy, w, h in network pixels followed by per-class scores.
func decodeYOLO(data []float32, channels, anchors int, scale, conf float32, bounds image.Rectangle) ([]image.Rectangle, []float32, []int) {
	var boxes []image.Rectangle
	var scores []float32
	var classes []int
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 4; c < channels; c++ {
			if s := data[c*anchors+i]; s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || bestScore < conf {
			continue
		}
		cx, cy := data[i], data[anchors+i]
		w, h := data[2*anchors+i], data[3*anchors+i]
		r := image.Rect(
			int((cx-w/2)*scale), int((cy-h/2)*scale),
			int((cx+w/2)*scale), int((cy+h/2)*scale),
		).Intersect(bounds)
		if r.Empty() {
			continue
		}
		boxes = append(boxes, r)
		scores = append(scores, bestScore)
		classes = append(classes, best)
	}
	return boxes, scores, classes
}
