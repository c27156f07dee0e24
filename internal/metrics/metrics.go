// Package metrics 提供监控指标收集功能
package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once           sync.Once
	registry       *prometheus.Registry
	defaultMetrics *Metrics
)

// Metrics 封装所有监控指标
type Metrics struct {
	// 会话指标
	ActiveSessions  prometheus.Gauge
	SessionsOpened  prometheus.Counter
	SessionsClosed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// 帧指标
	FramesIn   *prometheus.CounterVec
	FramesOut  prometheus.Counter
	FrameSize  prometheus.Histogram
	Milestones prometheus.Counter
	Throttled  prometheus.Counter

	// Hub指标
	HubPublished   prometheus.Counter
	HubLagged      prometheus.Counter
	HubSubscribers prometheus.Gauge

	// 总线指标
	BusPublishErrors *prometheus.CounterVec
	BusReceived      *prometheus.CounterVec
	BusDuplicates    prometheus.Counter

	// 错误指标
	ErrorsTotal         prometheus.Counter
	CriticalErrorsTotal prometheus.Counter
}

// NewMetrics 创建新的Metrics实例
func NewMetrics(namespace string) *Metrics {
	registry = prometheus.NewRegistry()
	f := promauto.With(registry)

	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "当前活跃的会话数",
		}),
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "建立的会话总数",
		}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "关闭的会话总数，按先结束的任务区分",
		}, []string{"first"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "会话持续时间(秒)",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 3600},
		}),

		FramesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "入站帧总数",
		}, []string{"kind"}),
		FramesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_out_total",
			Help:      "出站帧总数",
		}),
		FrameSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_size_bytes",
			Help:      "入站帧大小分布",
			Buckets:   []float64{64, 256, 1024, 4096, 16384, 65536},
		}),
		Milestones: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "milestones_total",
			Help:      "发送的里程碑消息总数",
		}),
		Throttled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_messages_total",
			Help:      "因限流被丢弃的入站消息总数",
		}),

		HubPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_published_total",
			Help:      "发布到Hub的消息总数",
		}),
		HubLagged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_lagged_total",
			Help:      "慢订阅者跳过的消息总数",
		}),
		HubSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_subscribers",
			Help:      "当前Hub订阅数",
		}),

		BusPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_errors_total",
			Help:      "消息总线发布错误总数",
		}, []string{"bus"}),
		BusReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_received_total",
			Help:      "从消息总线收到的消息总数",
		}, []string{"bus"}),
		BusDuplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_duplicates_total",
			Help:      "被去重丢弃的总线消息数",
		}),

		ErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "错误总数",
		}),
		CriticalErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "critical_errors_total",
			Help:      "严重错误总数",
		}),
	}
}

// GetRegistry 获取Prometheus注册表
func GetRegistry() *prometheus.Registry {
	Default()
	return registry
}

// Default 获取默认指标实例
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = NewMetrics("gorelay")
	})
	return defaultMetrics
}

// 便捷方法，用于快速记录指标

// SessionOpened 记录会话建立
func SessionOpened() {
	m := Default()
	m.ActiveSessions.Inc()
	m.SessionsOpened.Inc()
}

// SessionClosed 记录会话关闭，first为先结束的任务名
func SessionClosed(first string, lifetime time.Duration) {
	m := Default()
	m.ActiveSessions.Dec()
	m.SessionsClosed.WithLabelValues(first).Inc()
	m.SessionDuration.Observe(lifetime.Seconds())
}

// FrameReceived 记录入站帧
func FrameReceived(kind string, sizeBytes int) {
	m := Default()
	m.FramesIn.WithLabelValues(kind).Inc()
	m.FrameSize.Observe(float64(sizeBytes))
}

// FrameSent 记录出站帧
func FrameSent() {
	Default().FramesOut.Inc()
}

// MilestoneSent 记录里程碑消息
func MilestoneSent() {
	Default().Milestones.Inc()
}

// MessageThrottled 记录被限流丢弃的消息
func MessageThrottled() {
	Default().Throttled.Inc()
}

// HubPublished 记录Hub发布
func HubPublished() {
	Default().HubPublished.Inc()
}

// HubLagged 记录订阅者跳过的消息数
func HubLagged(n uint64) {
	Default().HubLagged.Add(float64(n))
}

// HubSubscribers 设置当前订阅数
func HubSubscribers(n int) {
	Default().HubSubscribers.Set(float64(n))
}

// BusPublishError 记录总线发布失败
func BusPublishError(bus string) {
	Default().BusPublishErrors.WithLabelValues(bus).Inc()
}

// BusReceived 记录从总线收到消息
func BusReceived(bus string) {
	Default().BusReceived.WithLabelValues(bus).Inc()
}

// BusDuplicate 记录重复的总线消息
func BusDuplicate() {
	Default().BusDuplicates.Inc()
}

// RecordError 记录错误
func RecordError() {
	Default().ErrorsTotal.Inc()
}

// RecordCriticalError 记录严重错误
func RecordCriticalError(errorType string) {
	m := Default()
	m.CriticalErrorsTotal.Inc()

	// 记录在日志中，便于排查
	slog.Error("critical error encountered", "type", errorType)
}
