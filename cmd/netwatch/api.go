package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusbrowse/netwatch/internal/config"
	"github.com/nimbusbrowse/netwatch/internal/controller"
	"github.com/nimbusbrowse/netwatch/internal/demohost"
	"github.com/nimbusbrowse/netwatch/internal/inspector"
	"github.com/nimbusbrowse/netwatch/internal/logging"
)

// runNetwatch wires the capture-side proxy server and the inspector API
// server around a shared Session Controller, then blocks until an
// interrupt or terminate signal triggers a graceful shutdown of both.
func runNetwatch(cfg *config.Config, host *demohost.Host, logger *logging.Logger) {
	ctrl := controller.New(cfg, host, host, logger)
	insp := inspector.New(cfg, ctrl, logger)

	proxyServer := &http.Server{
		Addr:         cfg.ProxyListenAddr,
		Handler:      host,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("forward proxy listening", zap.String("addr", cfg.ProxyListenAddr))
		if err := proxyServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("proxy server exited", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("inspector server listening", zap.String("addr", cfg.InspectorListenAddr))
		if err := insp.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("inspector server exited", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctrl.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = proxyServer.Shutdown(ctx)
	_ = insp.Stop()
}
