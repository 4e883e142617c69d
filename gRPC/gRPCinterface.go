package proto

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"

	"FusionServer/calib"
	"FusionServer/engine"
	"FusionServer/fusion"
	iface "FusionServer/interface"
	"FusionServer/logger"
	"FusionServer/monitor"
	"FusionServer/pipeline"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxMessageSize bounds a request; images and point clouds travel inline.
const MaxMessageSize = 64 << 20

// EngineSource reports the detector configuration. engine.Pool satisfies it.
type EngineSource interface {
	CheckConfig() iface.EngineConfig
}

type Server struct {
	Pipeline *pipeline.Pipeline
	// Engine is nil when no detector is configured.
	Engine EngineSource
}

func (s *Server) Process(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	monitor.RequestsTotal.WithLabelValues("grpc").Inc()
	in, err := decodeRequest(req)
	if err != nil {
		monitor.FailuresTotal.WithLabelValues("grpc").Inc()
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := s.Pipeline.Process(ctx, in)
	if err != nil {
		monitor.FailuresTotal.WithLabelValues("grpc").Inc()
		logger.Log().Error("fusion failed", zap.String("transport", "grpc"), zap.Error(err))
		return nil, status.Error(statusCode(err), err.Error())
	}
	out, err := structpb.NewStruct(encodeResponse(resp))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) CheckEngine(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	info := map[string]any{"enabled": s.Engine != nil}
	if s.Engine != nil {
		for k, v := range engine.Describe(s.Engine.CheckConfig()) {
			info[k] = v
		}
	}
	return structpb.NewStruct(info)
}

func statusCode(err error) codes.Code {
	var ce *calib.Error
	switch {
	case errors.Is(err, pipeline.ErrImage), errors.As(err, &ce):
		return codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

func decodeRequest(req *structpb.Struct) (pipeline.Request, error) {
	var out pipeline.Request
	fields := req.GetFields()
	image := fields["image"].GetStringValue()
	if image == "" {
		return out, fmt.Errorf("image is required")
	}
	var err error
	if out.Image, err = base64.StdEncoding.DecodeString(image); err != nil {
		return out, errors.Wrap(err, "image is not base64")
	}
	if pcd := fields["pcd"].GetStringValue(); pcd != "" {
		if out.PointCloud, err = base64.StdEncoding.DecodeString(pcd); err != nil {
			return out, errors.Wrap(err, "pcd is not base64")
		}
	}
	out.Label = fields["label"].GetStringValue()
	out.Calib = fields["calib"].GetStringValue()
	if d, ok := fields["detections"]; ok {
		list := d.GetListValue()
		if list == nil {
			return out, fmt.Errorf("detections must be a list")
		}
		out.Detections = make([]fusion.DetectionTuple, 0, len(list.GetValues()))
		for _, item := range list.AsSlice() {
			if tuple, ok := item.([]any); ok {
				out.Detections = append(out.Detections, tuple)
			} else {
				// kept so the assembler reports it
				out.Detections = append(out.Detections, fusion.DetectionTuple{item})
			}
		}
	}
	return out, nil
}

func encodeResponse(resp *pipeline.Response) map[string]any {
	objects := make([]any, 0, len(resp.FusedObjects))
	for _, o := range resp.FusedObjects {
		objects = append(objects, o.AsMap())
	}
	diags := make([]any, 0, len(resp.Diagnostics))
	for _, d := range resp.Diagnostics {
		diags = append(diags, map[string]any{"stage": d.Stage, "index": d.Index, "reason": d.Reason})
	}
	return map[string]any{
		"status":             resp.Status,
		"request_id":         resp.RequestID,
		"processed_image":    resp.ProcessedImage,
		"projected_2d_image": resp.Projected2DImage,
		"projected_3d_image": resp.Projected3DImage,
		"fused_objects":      objects,
		"diagnostics":        diags,
		"point_count":        resp.PointCount,
	}
}

// recoverUnary turns a handler panic into an Internal status so one request
// cannot take the process down.
func recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			monitor.FailuresTotal.WithLabelValues("grpc").Inc()
			logger.Log().Error("gRPC handler panic", zap.String("method", info.FullMethod), zap.Any("panic", r), zap.Stack("stack"))
			err = status.Errorf(codes.Internal, "panic: %v", r)
		}
	}()
	return handler(ctx, req)
}

// Serve registers srv on a new gRPC server and serves lis in the background.
func Serve(lis net.Listener, srv *Server) *grpc.Server {
	s := grpc.NewServer(
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
		grpc.ChainUnaryInterceptor(recoverUnary),
	)
	RegisterFusionServiceServer(s, srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("Failed to serve gRPC server", zap.Error(err))
		}
	}()
	return s
}

func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on port %d", port)
	}
	return Serve(lis, srv), nil
}
