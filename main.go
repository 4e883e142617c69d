package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"FusionServer/calib"
	"FusionServer/engine"
	"FusionServer/fusion"
	backend "FusionServer/gRPC"
	"FusionServer/logger"
	"FusionServer/monitor"
	"FusionServer/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// maxUpload bounds one multipart request.
	maxUpload = 64 << 20
	// requestTimeout bounds detection for one request.
	requestTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type app struct {
	pipeline *pipeline.Pipeline
	// engine is nil when no detector is configured
	engine backend.EngineSource
}

// errBadRequest marks a client error detected before the pipeline runs.
var errBadRequest = errors.New("bad request")

func errorJSON(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"status": "error", "message": err.Error()})
}

func statusOf(err error) int {
	var ce *calib.Error
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrImage), errors.As(err, &ce):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func setupRouter(a *app) *gin.Engine {
	r := gin.Default()
	r.MaxMultipartMemory = maxUpload
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/engine", func(c *gin.Context) {
		info := gin.H{"enabled": a.engine != nil}
		if a.engine != nil {
			for k, v := range engine.Describe(a.engine.CheckConfig()) {
				info[k] = v
			}
		}
		c.JSON(http.StatusOK, gin.H{"data": info})
	})
	r.POST("/process", a.handleProcess)
	r.GET("/ws/process", a.handleStream)
	return r
}

func readUpload(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, errors.Wrapf(errBadRequest, "missing upload %q", field)
	}
	return readFileHeader(fh)
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open upload %s", fh.Filename)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func multipartRequest(c *gin.Context) (pipeline.Request, error) {
	var req pipeline.Request
	uploads := map[string][]byte{}
	for _, field := range []string{"image", "pcd", "label", "calib"} {
		b, err := readUpload(c, field)
		if err != nil {
			return req, err
		}
		uploads[field] = b
	}
	req.Image = uploads["image"]
	req.PointCloud = uploads["pcd"]
	req.Label = string(uploads["label"])
	req.Calib = string(uploads["calib"])
	if raw, ok := c.GetPostForm("detections"); ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &req.Detections); err != nil {
			return req, errors.Wrapf(errBadRequest, "detections: %v", err)
		}
	}
	return req, nil
}

func (a *app) handleProcess(c *gin.Context) {
	monitor.RequestsTotal.WithLabelValues("http").Inc()
	req, err := multipartRequest(c)
	if err != nil {
		monitor.FailuresTotal.WithLabelValues("http").Inc()
		errorJSON(c, statusOf(err), err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	resp, err := a.pipeline.Process(ctx, req)
	if err != nil {
		monitor.FailuresTotal.WithLabelValues("http").Inc()
		logger.Log().Error("fusion failed", zap.String("transport", "http"), zap.Error(err))
		errorJSON(c, statusOf(err), err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// streamRequest is one websocket message. Binary payloads are base64, with or
// without a data URL prefix.
type streamRequest struct {
	Image      string                  `json:"image"`
	PCD        string                  `json:"pcd"`
	Label      string                  `json:"label"`
	Calib      string                  `json:"calib"`
	Detections []fusion.DetectionTuple `json:"detections"`
}

// decodeBase64 去掉可能的 data URL 前缀后解码
func decodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ","); i != -1 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

func (m streamRequest) toRequest() (pipeline.Request, error) {
	req := pipeline.Request{Label: m.Label, Calib: m.Calib, Detections: m.Detections}
	var err error
	if m.Image == "" {
		return req, errors.Wrap(errBadRequest, "image is required")
	}
	if req.Image, err = decodeBase64(m.Image); err != nil {
		return req, errors.Wrapf(errBadRequest, "image: %v", err)
	}
	if m.PCD != "" {
		if req.PointCloud, err = decodeBase64(m.PCD); err != nil {
			return req, errors.Wrapf(errBadRequest, "pcd: %v", err)
		}
	}
	return req, nil
}

// handleStream runs one fusion per text message on a websocket, replying in
// order on the same connection.
func (a *app) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxUpload)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			// 客户端断开或读取错误
			logger.Log().Debug("stream closed", zap.Error(err))
			return
		}
		if mt != websocket.TextMessage {
			_ = conn.WriteJSON(gin.H{"status": "error", "message": "unsupported message type"})
			continue
		}
		monitor.RequestsTotal.WithLabelValues("ws").Inc()
		reply := a.streamOne(c.Request.Context(), msg)
		if err := conn.WriteJSON(reply); err != nil {
			logger.Log().Warn("stream write failed", zap.Error(err))
			return
		}
	}
}

func (a *app) streamOne(ctx context.Context, msg []byte) any {
	var m streamRequest
	if err := json.Unmarshal(msg, &m); err != nil {
		monitor.FailuresTotal.WithLabelValues("ws").Inc()
		return gin.H{"status": "error", "message": "invalid message: " + err.Error()}
	}
	req, err := m.toRequest()
	if err != nil {
		monitor.FailuresTotal.WithLabelValues("ws").Inc()
		return gin.H{"status": "error", "message": err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	resp, err := a.pipeline.Process(ctx, req)
	if err != nil {
		monitor.FailuresTotal.WithLabelValues("ws").Inc()
		return gin.H{"status": "error", "message": err.Error()}
	}
	return resp
}
