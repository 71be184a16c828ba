package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"livecap/internal/capture"
	"livecap/internal/config"
	"livecap/internal/engine"
	"livecap/internal/handlers"
	"livecap/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the WebSocket capture API",
	Long: `Serve the capture API until SIGINT or SIGTERM.

Endpoints:
  GET /ws              WebSocket control and notification channel
  GET /api/interfaces  capture interfaces as JSON
  GET /healthz         liveness and number of active captures`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var listenAddr string

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "",
		"listen address (overrides server.listen)")
}

// engineConfig maps the capture settings onto the engine.
func engineConfig(cc config.CaptureConfig) engine.Config {
	return engine.Config{
		OutputDir:        cc.OutputDir,
		FileFormat:       cc.FileFormat,
		OutputMode:       cc.OutputMode,
		TerminateTimeout: cc.TerminateTimeout,
		MaxPackets:       cc.MaxPackets,
		ReadBuffer:       cc.ReadBuffer,
		QueueSize:        cc.QueueSize,
	}
}

// listen opens the server socket, limited to MaxConnections open
// connections when set.
func listen(sc config.ServerConfig) (net.Listener, error) {
	ln, err := net.Listen("tcp", sc.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", sc.Listen, err)
	}
	if sc.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, sc.MaxConnections)
	}
	return ln, nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	closer, err := logging.Setup(cfg.Log, debug)
	if err != nil {
		return err
	}
	defer closer.Close()

	eng := engine.New(
		engineConfig(cfg.Capture),
		capture.ExecLauncher{Tool: cfg.Capture.Tool},
		capture.Lister{Tool: cfg.Capture.Tool, Timeout: cfg.Capture.DiscoveryTimeout},
	)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, eng, cfg.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := listen(cfg.Server)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"listen":     ln.Addr().String(),
			"tool":       cfg.Capture.Tool,
			"output_dir": cfg.Capture.OutputDir,
		}).Info("livecap listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	// terminate and kill may each take the full timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Capture.TerminateTimeout+time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("all captures stopped")
	return nil
}
