package object

import "fmt"

// Stages that report per-record failures.
const (
	StageLabel         = "label"
	StageGeometry      = "geometry"
	StageAssemble      = "assemble"
	StageDetection     = "detection"
	StageSerialization = "serialization"
	StagePointCloud    = "pointcloud"
)

// Diagnostic describes one record that was skipped or degraded. Index is the
// 1-based line for labels and the 0-based position otherwise.
type Diagnostic struct {
	Stage  string `json:"stage"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s[%d]: %s", d.Stage, d.Index, d.Reason)
}
