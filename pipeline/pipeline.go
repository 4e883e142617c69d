// Package pipeline runs one fusion request from raw uploads to the response
// record: calibration, labels, projection, rendering, detection, assembly,
// distances and emission.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"FusionServer/calib"
	"FusionServer/fusion"
	"FusionServer/geometry"
	iface "FusionServer/interface"
	"FusionServer/monitor"
	"FusionServer/object"
	"FusionServer/pointcloud"
	"FusionServer/render"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const StatusSuccess = "success"

// ErrImage marks an image upload that could not be decoded.
var ErrImage = errors.New("undecodable image")

// Detector is the 2D detector collaborator. engine.Pool satisfies it.
type Detector interface {
	Detect(ctx context.Context, img gocv.Mat) ([]iface.Result, error)
}

type Request struct {
	Image      []byte
	PointCloud []byte
	Label      string
	Calib      string
	// Detections replaces the detector output when non-nil.
	Detections []fusion.DetectionTuple
}

type Response struct {
	Status           string               `json:"status"`
	RequestID        string               `json:"request_id"`
	ProcessedImage   string               `json:"processed_image"`
	Projected2DImage string               `json:"projected_2d_image"`
	Projected3DImage string               `json:"projected_3d_image"`
	FusedObjects     []fusion.FusedObject `json:"fused_objects"`
	Diagnostics      []object.Diagnostic  `json:"diagnostics"`
	PointCount       int                  `json:"point_count"`
}

type Pipeline struct {
	detector Detector
	log      *zap.Logger
}

// New returns a pipeline. With a nil detector, requests without explicit
// detections produce LiDAR objects only.
func New(detector Detector, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{detector: detector, log: log}
}

// Process runs a request. Only an undecodable image, a calibration error, a
// detector failure or an encoding failure abort it; every per-object problem
// is returned as a diagnostic.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	defer func() { monitor.ProcessSeconds.Observe(time.Since(start).Seconds()) }()

	resp := &Response{Status: StatusSuccess, RequestID: uuid.NewString()}
	log := p.log.With(zap.String("request_id", resp.RequestID))

	img, err := render.Decode(req.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImage, err)
	}
	defer img.Close()

	P, err := calib.Parse(req.Calib)
	if err != nil {
		return nil, err
	}
	projector, err := geometry.NewProjector(P)
	if err != nil {
		return nil, err
	}

	var diags []object.Diagnostic
	resp.PointCount, diags = p.loadPointCloud(req.PointCloud, log)

	objects, labelDiags := object.ParseLabels(req.Label)
	diags = append(diags, labelDiags...)
	diags = append(diags, projector.AnnotateAll(objects)...)

	img2D, img3D := render.AnnotateAll(img, objects)
	defer img2D.Close()
	defer img3D.Close()

	processed := img2D.Clone()
	defer processed.Close()

	tuples := req.Detections
	if tuples == nil && p.detector != nil {
		results, err := p.detector.Detect(ctx, img2D)
		if err != nil {
			return nil, errors.Wrap(err, "detector")
		}
		render.DrawDetections(&processed, results)
		tuples = FromResults(results)
	}

	fused, assembleDiags := fusion.Assemble(objects, tuples)
	diags = append(diags, assembleDiags...)
	fusion.AnnotateDistances(fused)
	drawDistances(&processed, fused)

	var emitDiags []object.Diagnostic
	resp.FusedObjects, emitDiags = fusion.EmitAll(fused)
	diags = append(diags, emitDiags...)

	for _, pair := range []struct {
		dst *string
		img gocv.Mat
	}{
		{&resp.ProcessedImage, processed},
		{&resp.Projected2DImage, img2D},
		{&resp.Projected3DImage, img3D},
	} {
		png, err := render.EncodePNG(pair.img)
		if err != nil {
			return nil, err
		}
		*pair.dst = base64.StdEncoding.EncodeToString(png)
	}

	if diags == nil {
		diags = []object.Diagnostic{}
	}
	resp.Diagnostics = diags
	for _, d := range diags {
		log.Warn("record skipped or degraded", zap.String("stage", d.Stage), zap.Int("index", d.Index), zap.String("reason", d.Reason))
	}
	monitor.ObserveObjects(fused)
	monitor.ObserveDiagnostics(diags)
	log.Info("fusion done",
		zap.Int("objects", len(resp.FusedObjects)),
		zap.Int("detections", len(tuples)),
		zap.Int("points", resp.PointCount),
		zap.Int("diagnostics", len(diags)),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

func (p *Pipeline) loadPointCloud(data []byte, log *zap.Logger) (int, []object.Diagnostic) {
	if len(data) == 0 {
		log.Warn("empty point cloud upload")
		return 0, nil
	}
	pts, _, err := pointcloud.Parse(data)
	if err != nil {
		return 0, []object.Diagnostic{{Stage: object.StagePointCloud, Index: 0, Reason: err.Error()}}
	}
	if len(pts) == 0 {
		log.Warn("point cloud has no finite points")
	}
	return len(pts), nil
}

// drawDistances labels every projected LiDAR box with its range.
func drawDistances(img *gocv.Mat, objects []*object.Object3D) {
	for _, obj := range objects {
		if obj.BBox3D == nil {
			continue
		}
		d, ok := obj.Distance()
		if !ok {
			continue
		}
		if box, ok := render.Box2D(obj); ok {
			render.DrawDistance(img, box, d)
		}
	}
}

// FromResults converts engine results to detection tuples.
func FromResults(results []iface.Result) []fusion.DetectionTuple {
	out := make([]fusion.DetectionTuple, 0, len(results))
	for _, r := range results {
		out = append(out, fusion.DetectionTuple{
			float64(r.Box.LT.X), float64(r.Box.LT.Y),
			float64(r.Box.RB.X), float64(r.Box.RB.Y),
			r.ClassID, float64(r.Conf),
		})
	}
	return out
}
