// Command meshsim runs two mesh nodes connected by an in-memory proxy link
// and exposes their activity over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/backkem/blemesh/pkg/store"
)

var (
	// Flags
	configPath string
	dbPath     string
	listenAddr string
	logLevel   string
	duration   time.Duration

	rootCmd = &cobra.Command{
		Use:   "meshsim",
		Short: "Bluetooth mesh networking simulator",
		Long: `meshsim connects two mesh nodes through a simulated GATT proxy link.

The first node periodically sends the configured access message to the
second, which answers with the response opcode. Metrics are served at
/metrics, controller events are streamed as JSON over the /events websocket
and node state is available at /status.`,
		RunE:         runSim,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML simulation config (empty = defaults)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite network state database (empty = in-memory)")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:9090", "HTTP listen address (empty = disabled)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 = until interrupted)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openStore(path string, lf logrusFactory) (store.Store, error) {
	if path == "" {
		return store.NewMemoryStore(), nil
	}
	return store.OpenSQLite(store.SQLiteConfig{File: path, LoggerFactory: lf})
}

func runSim(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)
	lf := logrusFactory{logger: logger}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := openStore(dbPath, lf)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	hub := NewHub(logger.WithField("module", "events"))
	go hub.Run()
	defer hub.Close()

	sim, err := newSimulation(cfg, st, reg, hub, lf, logger.WithField("module", "sim"))
	if err != nil {
		return err
	}
	if err := sim.start(); err != nil {
		return err
	}
	defer sim.stop()

	if listenAddr != "" {
		srv := newServer(listenAddr, newHandler(reg, hub, sim.status))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("http server")
			}
		}()
		defer srv.Close()
		logger.WithField("addr", listenAddr).Info("http server listening")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	logger.WithFields(logrus.Fields{
		"nodes":    []string{sim.nodes[0].LocalAddress().String(), sim.nodes[1].LocalAddress().String()},
		"interval": cfg.Traffic.Interval,
		"reliable": cfg.Traffic.Reliable,
	}).Info("simulation running")

	sim.run(ctx)
	logger.Info("shutting down")
	return nil
}
