package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorelay/configs"
	"gorelay/internal/metrics"
	"gorelay/server"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 0, "监听端口，非0时覆盖配置中的server.addr端口")
)

func main() {
	flag.Parse()

	// 热更新时只调整日志级别，其余配置需要重启生效
	logLevel := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	config, err := configs.LoadConfig(*configFile, func(c configs.Config) {
		logLevel.Set(configs.ParseLogLevel(c.Log.Level))
	})
	if err != nil {
		slog.Error("invalid configuration", "error", err, "configFile", *configFile)
		os.Exit(1)
	}
	logLevel.Set(configs.ParseLogLevel(config.Log.Level))
	config.Server.Addr = serverAddr(config.Server.Addr, *port)
	slog.Info("logger initialized", "level", logLevel.Level().String())

	metrics.Default()

	srv, err := server.NewServer(config)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// serverAddr 用命令行端口替换地址中的端口，保留主机部分
func serverAddr(addr string, cliPort int) string {
	if cliPort == 0 {
		return addr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, fmt.Sprint(cliPort))
}
