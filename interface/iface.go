package iface

import "gocv.io/x/gocv"

// Backend is a 2D object detector. Implementations are not required to be
// reentrant; callers serialize access to one instance.
type Backend interface {
	LoadModel(cfg EngineConfig) error
	Detect(image gocv.Mat) ([]Result, error)
	Destroy()
	CheckConfig() EngineConfig
}
