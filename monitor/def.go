package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"FusionServer/logger"
	"FusionServer/object"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	PID      process.Process
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	// RequestsTotal counts fusion requests by transport (http, grpc).
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_requests_total",
		Help: "Total number of fusion requests processed",
	}, []string{"transport"})
	FailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_failures_total",
		Help: "Fusion requests that ended in an error",
	}, []string{"transport"})
	FusedObjects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_objects_total",
		Help: "Fused objects emitted by source",
	}, []string{"source"})
	Diagnostics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_diagnostics_total",
		Help: "Per-object failures by pipeline stage",
	}, []string{"stage"})
	ProcessSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fusion_process_seconds",
		Help:    "Wall time of one fusion request",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, RequestsTotal, FailuresTotal, FusedObjects, Diagnostics, ProcessSeconds)
}

// ObserveObjects counts emitted objects by kind.
func ObserveObjects(objects []*object.Object3D) {
	for _, o := range objects {
		FusedObjects.WithLabelValues(o.Kind().String()).Inc()
	}
}

func ObserveDiagnostics(diags []object.Diagnostic) {
	for _, d := range diags {
		Diagnostics.WithLabelValues(d.Stage).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func prom(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
	return srv
}

func CheckProcessInfo() {
	MemInfo, err := PID.MemoryInfo()
	if err == nil {
		memUsage.Set(float64(MemInfo.RSS / 1024 / 1024))
	}
	CPUPercent, err := PID.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(CPUPercent*100) / 100)
	}
}

func GotPID() {
	PID.Pid = int32(os.Getpid())
}

// StartMon serves /metrics on port and samples process stats until ctx ends.
func StartMon(port int, ctx context.Context) {
	PID = process.Process{}
	GotPID()
	srv := prom(port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("Prometheus server Shutdown error", zap.Error(err))
	}
}
