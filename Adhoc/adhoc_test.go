package Adhoc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regServer(t *testing.T, status int, got chan<- RegisterRequest) RegServerConfig {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/register", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req RegisterRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		select {
		case got <- req:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(RegisterResponse{Id: req.Id, Success: status == http.StatusOK})
	}))
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	cfg := RegServerConfig{}
	cfg.SetAddress(host, p)
	return cfg
}

func TestSend(t *testing.T) {
	got := make(chan RegisterRequest, 1)
	hb := NewHeartbeat(regServer(t, http.StatusOK, got), "10.1.2.3", 50051, 8000)

	resp, err := hb.Send(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, hb.ID(), resp.Id)

	req := <-got
	assert.Equal(t, "10.1.2.3", req.IP)
	assert.Equal(t, 50051, req.Port)
	assert.Equal(t, 8000, req.HTTPPort)
	assert.Equal(t, ServiceName, req.Service)
	assert.NotZero(t, req.TimeStamp)
}

func TestSendServerError(t *testing.T) {
	hb := NewHeartbeat(regServer(t, http.StatusServiceUnavailable, make(chan RegisterRequest, 1)), "ip", 1, 2)
	_, err := hb.Send(context.Background())
	assert.ErrorContains(t, err, "503")
}

func TestRunStopsOnCancel(t *testing.T) {
	got := make(chan RegisterRequest, 8)
	cfg := regServer(t, http.StatusOK, got)
	cfg.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go NewHeartbeat(cfg, "ip", 1, 2).Run(ctx, &wg)

	first, second := <-got, <-got
	assert.Equal(t, first.Id, second.Id, "instance id is stable")

	cancel()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat did not stop")
	}
}
