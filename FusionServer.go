package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	adhoc "FusionServer/Adhoc"
	"FusionServer/config"
	"FusionServer/engine"
	backend "FusionServer/gRPC"
	iface "FusionServer/interface"
	"FusionServer/logger"
	"FusionServer/monitor"
	"FusionServer/pipeline"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

func GetOutboundIP() (string, error) {
	// 8.8.8.8 只是为了建立路由路径得到本地出口 IP，不会真正发包
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// newDetector builds and loads one detector; with GPU it is warmed up so the
// first request does not pay for CUDA initialisation.
func newDetector(cfg iface.EngineConfig) (iface.Backend, error) {
	d := &engine.Detector{}
	d.New()
	if err := d.LoadModel(cfg); err != nil {
		return nil, err
	}
	if cfg.UseGPU {
		warmMat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 32, 32, gocv.MatTypeCV8UC3) // 小黑图，非空
		defer warmMat.Close()
		for i := 0; i < 3; i++ {
			if _, err := d.Detect(warmMat); err != nil {
				logger.Log().Warn("warm up detect failed", zap.Error(err))
			}
		}
	}
	return d, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log()
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println(" HTTP    Port:", cfg.HTTPPort)
	fmt.Println(" gRPC    Port:", cfg.RPCPort)
	fmt.Println(" Monitor Port:", cfg.MonitorPort)
	fmt.Println("Configured Workers Num:", cfg.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))

	var pool *engine.Pool
	var det pipeline.Detector
	var src backend.EngineSource
	if cfg.DetectorEnabled() {
		engineCfg := cfg.EngineConfig()
		pool, err = engine.NewPool(cfg.WorkersNum, func() (iface.Backend, error) {
			return newDetector(engineCfg)
		}, log.Named("engine"))
		if err != nil {
			log.Fatal("failed to start detector pool", zap.Error(err))
		}
		defer pool.Close()
		det, src = pool, pool
		log.Info("detector pool ready", zap.String("model", engineCfg.ModelPath), zap.Int("workers", pool.Size()), zap.Bool("gpu", engineCfg.UseGPU))
	} else {
		log.Warn("no detector model configured, image detections come from requests only")
	}
	pipe := pipeline.New(det, log.Named("pipeline"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup

	if cfg.UseRegServer {
		ip, err := GetOutboundIP()
		if err != nil {
			log.Fatal("Failed to get outbound IP", zap.Error(err))
		}
		adhoc.RegServerCfg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		wg.Add(1)
		go adhoc.SendAliveMessage(ip, cfg.RPCPort, cfg.HTTPPort, ctx, &wg)
	} else {
		log.Info("UseRegServer is set to false, skipping registration")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.StartMon(cfg.MonitorPort, ctx)
	}()

	rpc, err := backend.StartGRPCServer(cfg.RPCPort, &backend.Server{Pipeline: pipe, Engine: src})
	if err != nil {
		log.Fatal("failed to start gRPC server", zap.Error(err))
	}

	if cfg.LogMode == logger.ModeProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: setupRouter(&app{pipeline: pipe, engine: src}),
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Warn("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown", zap.Error(err))
	}
	rpc.GracefulStop()
	wg.Wait()
	log.Info("Safely exited")
}
