package iface

// NamesConf holds class names inline or as a path to a names file.
type NamesConf struct {
	IsFile bool
	Data   any
}

type EngineConfig struct {
	UseGPU    bool
	ModelPath string
	Names     NamesConf
	Conf      float32
	Iou       float32
	InputSize int
}

type Position struct {
	X, Y float32
}

type Box struct {
	LT Position
	RT Position
	RB Position
	LB Position
}

// Result is one detection in input image pixels.
type Result struct {
	ClassID int
	Name    string
	Conf    float32
	Box     Box
	Center  Position
}

// NewResult builds a Result from corner coordinates.
func NewResult(classID int, name string, conf float32, x1, y1, x2, y2 float32) Result {
	box := Box{
		LT: Position{X: x1, Y: y1},
		RT: Position{X: x2, Y: y1},
		RB: Position{X: x2, Y: y2},
		LB: Position{X: x1, Y: y2},
	}
	return Result{
		ClassID: classID,
		Name:    name,
		Conf:    conf,
		Box:     box,
		Center:  Position{X: (x1 + x2) / 2, Y: (y1 + y2) / 2},
	}
}
