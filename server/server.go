package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gorelay/configs"
	"gorelay/internal/bus"
	hubnats "gorelay/internal/bus/nats"
	"gorelay/internal/bus/noop"
	hubredis "gorelay/internal/bus/redis"
	"gorelay/internal/hub"
	"gorelay/internal/metrics"
	"gorelay/internal/relay"
	"gorelay/internal/session"
	internalwebsocket "gorelay/internal/websocket"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	config     configs.Config
	messageBus bus.MessageBus
	hub        *hub.Hub
	bridge     *relay.Bridge
	supervisor *session.Supervisor
	upgrader   *websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener

	// 所有会话共享的生命周期，Shutdown时取消
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer 根据配置创建服务器及其内部组件
func NewServer(config configs.Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		upgrader: internalwebsocket.NewUpgrader(config.Server.WebSocket),
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := s.initComponents(); err != nil {
		cancel()
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)
	s.httpServer = &http.Server{
		Addr:              config.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// initComponents 初始化Hub、消息总线、桥接和会话管理器
func (s *Server) initComponents() error {
	mode, err := session.ParseMode(string(s.config.Relay.Mode))
	if err != nil {
		return err
	}

	var pub hub.Publisher
	if mode == session.ModeFanout {
		s.hub = hub.New(s.config.Relay.HubCapacity)

		if s.config.Cluster.Enabled {
			messageBus, err := createMessageBus(s.config.Cluster)
			if err != nil {
				return fmt.Errorf("failed to create message bus: %w", err)
			}
			s.messageBus = messageBus
			s.bridge = relay.New(s.hub, messageBus, s.config.Cluster.Bridge)
			if err := s.bridge.Start(s.ctx); err != nil {
				messageBus.Close()
				return err
			}
			pub = s.bridge
		}
	} else if s.config.Cluster.Enabled {
		slog.Warn("cluster relay ignored in heartbeat mode", "bus_type", s.config.Cluster.BusType)
	}

	s.supervisor, err = session.NewSupervisor(s.config.Relay, s.hub, pub)
	return err
}

func createMessageBus(cluster configs.Cluster) (bus.MessageBus, error) {
	switch cluster.BusType {
	case "nats":
		return hubnats.New(cluster.NATS)
	case "redis":
		return hubredis.New(cluster.Redis)
	case "noop":
		return noop.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", configs.ErrUnknownBusType, cluster.BusType)
	}
}

// Handler 返回HTTP路由，便于测试时挂到httptest.Server上
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Bridge 集群桥接，未启用集群时为nil
func (s *Server) Bridge() *relay.Bridge {
	return s.bridge
}

// Start 监听配置的地址并在后台提供服务
func (s *Server) Start() error {
	metrics.Default()

	ln, err := net.Listen("tcp", s.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Server.Addr, err)
	}
	s.listener = ln
	slog.Info("Starting gorelay server", "address", ln.Addr().String(), "mode", s.supervisor.Mode())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Addr 返回实际监听地址，Start之前为空
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown 停止接受连接并结束所有会话。
// 先关闭桥接和Hub唤醒fan-out写任务，再取消会话ctx，最后关闭HTTP服务和消息总线。
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down gorelay server...")

	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil {
			slog.Error("Failed to close relay bridge", "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Close()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.supervisor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("sessions still active at shutdown deadline", "active", s.supervisor.Active())
	}

	err := s.httpServer.Shutdown(ctx)
	if s.messageBus != nil {
		if cerr := s.messageBus.Close(); cerr != nil {
			slog.Error("Failed to close message bus", "error", cerr)
		}
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// handleWebSocket 升级连接并在当前goroutine中运行会话
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket", "error", err, "remoteAddr", r.RemoteAddr)
		metrics.RecordError()
		return
	}

	adapter := internalwebsocket.NewGorillaConn(conn, s.config.Server.WebSocket)
	if err := s.supervisor.Serve(s.ctx, adapter); err != nil {
		slog.Warn("session ended with error", "remoteAddr", r.RemoteAddr, "error", err)
	}
}

// handleHealth 处理健康检查
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	response := map[string]any{
		"status":          "ok",
		"version":         s.config.Version,
		"mode":            s.supervisor.Mode(),
		"active_sessions": s.supervisor.Active(),
		"time":            time.Now().Format(time.RFC3339),
	}
	if s.hub != nil {
		response["hub_subscribers"] = s.hub.SubscriberCount()
		response["hub_published"] = s.hub.Published()
	}
	if s.bridge != nil {
		response["node_id"] = s.bridge.NodeID()
		response["bus"] = s.messageBus.Name()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}
