package Adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FusionServer/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ServiceName    = "fusion"
	TimeOutSeconds = 5
)

// RegisterRequest is the heartbeat body posted to /api/register.
type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	HTTPPort  int    `json:"httpPort"`
	Service   string `json:"service"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
	// Interval 默认 TimeOutSeconds 秒
	Interval time.Duration
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg *RegServerConfig) url() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

var RegServerCfg RegServerConfig

// Heartbeat registers this instance with the registry server.
type Heartbeat struct {
	cfg      RegServerConfig
	client   *resty.Client
	id       string
	ip       string
	rpcPort  int
	httpPort int
}

func NewHeartbeat(cfg RegServerConfig, ip string, rpcPort, httpPort int) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = TimeOutSeconds * time.Second
	}
	return &Heartbeat{
		cfg:      cfg,
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second), // 总超时
		id:       uuid.NewString(),
		ip:       ip,
		rpcPort:  rpcPort,
		httpPort: httpPort,
	}
}

// ID is the instance id sent with every heartbeat.
func (h *Heartbeat) ID() string { return h.id }

// Send posts one heartbeat.
func (h *Heartbeat) Send(ctx context.Context) (*RegisterResponse, error) {
	var respBody RegisterResponse
	reqBody := RegisterRequest{
		Id:        h.id,
		IP:        h.ip,
		Port:      h.rpcPort,
		HTTPPort:  h.httpPort,
		Service:   ServiceName,
		TimeStamp: time.Now().Unix(),
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).     // 可以直接传 struct，resty 会 JSON 编码
		SetResult(&respBody). // 2xx 自动反序列化到 respBody
		Post(h.cfg.url())
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	// 检查 HTTP 状态码
	if resp.IsError() {
		return nil, fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	return &respBody, nil
}

// Run sends a heartbeat immediately and then every interval until ctx ends.
func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("heartbeat panic recovered", zap.Any("panic", r))
			}
		}()
		if _, err := h.Send(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Error("heartbeat failed", zap.String("url", h.cfg.url()), zap.Error(err))
		}
	}
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}

// SendAliveMessage runs the heartbeat against RegServerCfg.
func SendAliveMessage(CCIP string, CCPort, HTTPPort int, ctx context.Context, wg *sync.WaitGroup) {
	NewHeartbeat(RegServerCfg, CCIP, CCPort, HTTPPort).Run(ctx, wg)
}
