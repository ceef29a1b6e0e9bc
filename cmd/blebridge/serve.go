package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ble-mcp-test/bridge/pkg/bridgefront"
	"github.com/ble-mcp-test/bridge/pkg/config"
	"github.com/ble-mcp-test/bridge/pkg/logger"
	"github.com/ble-mcp-test/bridge/pkg/observability"
	"github.com/ble-mcp-test/bridge/pkg/session"
	"github.com/ble-mcp-test/bridge/pkg/sessionmgr"
	"github.com/ble-mcp-test/bridge/pkg/wshandler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Long:  "Start the WebSocket front end, the session manager, and the observability surface.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}

	log := logger.New(cfg.LoggerConfig())
	logger.SetGlobal(log)

	logRing := observability.NewLogRing(cfg.LogBufferSize)
	mgr := sessionmgr.New(cfg.ManagerConfig(logRing), log)

	front := bridgefront.New(cfg.FrontendConfig(), mgr, log, func(conn *websocket.Conn, sess *session.Session) {
		h := wshandler.New(conn, sess, mgr, wshandler.Config{AdminToken: cfg.AdminToken}, log)
		h.Run(context.Background())
	})
	if err := front.Start(); err != nil {
		return fmt.Errorf("failed to start bridge front end: %w", err)
	}

	obsServer := observability.New(cfg.ObservabilityConfig(), mgr, logRing, log)
	if err := obsServer.Start(); err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("blebridge is running", "ws_port", cfg.WSPort, "observability_port", cfg.ObservabilityPort)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := front.Stop(shutdownCtx); err != nil {
		log.Error("error stopping bridge front end", "error", err)
	}
	if err := obsServer.Stop(shutdownCtx); err != nil {
		log.Error("error stopping observability server", "error", err)
	}
	mgr.ForceCleanupAll(session.ReasonAdmin)
	mgr.Stop()

	log.Info("blebridge stopped")
	return nil
}
