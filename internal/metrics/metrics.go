// Package metrics 暴露Prometheus指标
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

const namespace = "groupharvest"

// Recorder 抓取指标
// 使用独立的Registry,多个实例互不影响
type Recorder struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	postsTotal    *prometheus.CounterVec
	droppedTotal  *prometheus.CounterVec
	scrollsTotal  *prometheus.CounterVec
	stallsTotal   *prometheus.CounterVec
	overlaysTotal *prometheus.CounterVec
	storedTotal   prometheus.Counter
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge
}

// NewRecorder 创建并注册全部指标
func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "按引擎和终止原因统计的抓取运行次数",
	}, []string{"engine", "stop_reason"})
	r.postsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_yielded_total",
		Help:      "产出的帖子数",
	}, []string{"engine"})
	r.droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_dropped_total",
		Help:      "被丢弃的帖子数",
	}, []string{"engine", "reason"})
	r.scrollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scrolls_total",
		Help:      "滚动次数",
	}, []string{"engine"})
	r.stallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stalls_total",
		Help:      "没有新文章的提取周期数",
	}, []string{"engine"})
	r.overlaysTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "overlays_dismissed_total",
		Help:      "清理的遮罩数",
	}, []string{"engine"})
	r.storedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_stored_total",
		Help:      "新写入数据库的帖子数",
	})
	r.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "单次抓取耗时",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
	}, []string{"engine"})
	r.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "正在进行的抓取数",
	})

	r.registry.MustRegister(
		r.runsTotal, r.postsTotal, r.droppedTotal, r.scrollsTotal, r.stallsTotal,
		r.overlaysTotal, r.storedTotal, r.runDuration, r.activeRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry 返回底层Registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RunStarted 抓取开始
func (r *Recorder) RunStarted() {
	r.activeRuns.Inc()
}

// RunFinished 抓取结束时汇总统计
func (r *Recorder) RunFinished(engine models.Engine, stats models.RunStats, err error) {
	r.activeRuns.Dec()

	e := string(engine)
	reason := string(stats.StopReason)
	if err != nil {
		reason = "error"
	} else if reason == "" {
		reason = "unknown"
	}
	r.runsTotal.WithLabelValues(e, reason).Inc()
	r.postsTotal.WithLabelValues(e).Add(float64(stats.Yielded))
	r.droppedTotal.WithLabelValues(e, "duplicate").Add(float64(stats.Duplicates))
	r.droppedTotal.WithLabelValues(e, "skipped").Add(float64(stats.Skipped))
	r.droppedTotal.WithLabelValues(e, "parse_error").Add(float64(stats.ParseErrors))
	r.scrollsTotal.WithLabelValues(e).Add(float64(stats.ScrollAttempts))
	r.stallsTotal.WithLabelValues(e).Add(float64(stats.Stalls))
	r.overlaysTotal.WithLabelValues(e).Add(float64(stats.OverlaysDismissed))
	if stats.Duration > 0 {
		r.runDuration.WithLabelValues(e).Observe(stats.Duration)
	}
}

// PostsStored 记录入库新增数
func (r *Recorder) PostsStored(n int) {
	if n > 0 {
		r.storedTotal.Add(float64(n))
	}
}

// Handler /metrics 处理器
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve 在addr上暴露 /metrics, ctx取消时关闭
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("📈 指标服务已启动")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
