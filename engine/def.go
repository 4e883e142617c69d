package engine

import (
	"os"
	"strings"

	iface "FusionServer/interface"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

// COCONames are the class names of the stock YOLOv8 weights.
var COCONames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}

// ReadLinesReadFile reads a names file, one class per line.
func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// 支持 Windows CRLF，去掉尾部的 '\r'
	raw := strings.Split(string(b), "\n")
	var lines []string
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// Describe renders an engine config for the /api/engine and CheckEngine
// replies. Values are plain JSON types.
func Describe(cfg iface.EngineConfig) map[string]any {
	names := make([]any, 0)
	switch v := cfg.Names.Data.(type) {
	case []string:
		for _, n := range v {
			names = append(names, n)
		}
	case string:
		names = append(names, "From File")
	}
	return map[string]any{
		"modelPath":  cfg.ModelPath,
		"names":      names,
		"confidence": float64(cfg.Conf),
		"iou":        float64(cfg.Iou),
		"inputSize":  cfg.InputSize,
		"useGPU":     cfg.UseGPU,
	}
}
