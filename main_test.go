package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	iface "FusionServer/interface"
	"FusionServer/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const calibText = "P2: 721.5377 0 609.5593 44.85728 0 721.5377 172.854 0.2163791 0 0 1 0.002745884\n"

const labelText = "Car 0.00 0 -1.57 599.41 156.40 629.75 189.25 2.85 2.63 12.34 0.47 1.49 69.44 -1.56\n"

const pcdText = "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nWIDTH 1\nHEIGHT 1\nDATA ascii\n1 2 3\n"

type mockDetector struct{}

func (mockDetector) Detect(context.Context, gocv.Mat) ([]iface.Result, error) {
	return []iface.Result{iface.NewResult(2, "car", 0.5, 10, 20, 30, 40)}, nil
}

func (mockDetector) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{ModelPath: "models/yolov8n.onnx", Names: iface.NamesConf{Data: "kitti.names", IsFile: true}, Conf: 0.25, Iou: 0.5, InputSize: 640}
}

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return setupRouter(&app{pipeline: pipeline.New(mockDetector{}, nil), engine: mockDetector{}})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	require.NoError(t, err)
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

func multipartBody(t *testing.T, files map[string][]byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, data := range files {
		fw, err := w.CreateFormFile(name, name+".bin")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func allUploads(t *testing.T) map[string][]byte {
	return map[string][]byte{
		"image": pngBytes(t),
		"pcd":   []byte(pcdText),
		"label": []byte(labelText),
		"calib": []byte(calibText),
	}
}

func post(t *testing.T, r http.Handler, files map[string][]byte, fields map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	body, ct := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestPing(t *testing.T) {
	w := httptest.NewRecorder()
	testRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestEngineInfo(t *testing.T) {
	w := httptest.NewRecorder()
	testRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/engine", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"enabled":true,"modelPath":"models/yolov8n.onnx","names":["From File"],"confidence":0.25,"iou":0.5,"inputSize":640,"useGPU":false}}`, w.Body.String())
}

func TestProcess(t *testing.T) {
	r := testRouter()

	t.Run("success", func(t *testing.T) {
		w, out := post(t, r, allUploads(t), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "success", out["status"])
		assert.Equal(t, 1.0, out["point_count"])
		objects := out["fused_objects"].([]any)
		require.Len(t, objects, 2)
		assert.Equal(t, "Car", objects[0].(map[string]any)["category"])
		assert.Equal(t, "YOLO_2", objects[1].(map[string]any)["category"])
		_, err := base64.StdEncoding.DecodeString(out["projected_3d_image"].(string))
		assert.NoError(t, err)
	})

	t.Run("explicit detections", func(t *testing.T) {
		w, out := post(t, r, allUploads(t), map[string]string{"detections": `[[1,2,3,4,"9",0.3],[1,2]]`})
		require.Equal(t, http.StatusOK, w.Code)
		objects := out["fused_objects"].([]any)
		require.Len(t, objects, 2)
		assert.Equal(t, "YOLO_9", objects[1].(map[string]any)["category"])
		assert.Len(t, out["diagnostics"], 1)
	})

	t.Run("missing upload", func(t *testing.T) {
		files := allUploads(t)
		delete(files, "calib")
		w, out := post(t, r, files, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "error", out["status"])
		assert.Contains(t, out["message"], "calib")
	})

	t.Run("bad detections", func(t *testing.T) {
		w, _ := post(t, r, allUploads(t), map[string]string{"detections": "{"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad calibration", func(t *testing.T) {
		files := allUploads(t)
		files["calib"] = []byte("P2: 1 2 3\n")
		w, out := post(t, r, files, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, out["message"], "expected 12 values")
	})

	t.Run("bad image", func(t *testing.T) {
		files := allUploads(t)
		files["image"] = []byte("not an image")
		w, _ := post(t, r, files, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(testRouter())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/process"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := map[string]any{
		"image": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t)),
		"pcd":   base64.StdEncoding.EncodeToString([]byte(pcdText)),
		"label": labelText,
		"calib": calibText,
	}
	require.NoError(t, conn.WriteJSON(msg))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "success", out["status"])
	assert.Len(t, out["fused_objects"], 2)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	out = nil
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "error", out["status"])

	require.NoError(t, conn.WriteJSON(map[string]any{"calib": calibText}))
	out = nil
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "error", out["status"])
	assert.Contains(t, out["message"], "image is required")
}

func TestDecodeBase64(t *testing.T) {
	b, err := decodeBase64("data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hi")))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))
	_, err = decodeBase64("%%")
	assert.Error(t, err)
}
