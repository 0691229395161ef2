// Command tpmd is the Type-C port manager daemon: it drives one physical
// Type-C receptacle (real FUSB302 silicon over I2C, or an in-memory
// simulated controller for bring-up and demos), and serves a read-only JSON
// status API and Prometheus metrics over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/oxplot/go-typec-tpm/internal/config"
	"github.com/oxplot/go-typec-tpm/internal/httpapi"
	"github.com/oxplot/go-typec-tpm/internal/metrics"
	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/tcpcdriver/fusb302"
	"github.com/oxplot/go-typec-tpm/tpc"
	"github.com/oxplot/go-typec-tpm/tpc/tpcsim"
	"github.com/oxplot/go-typec-tpm/typec"
)

var (
	version   = "dev"
	buildHash = "unknown"
)

func main() {
	log := logrus.New()
	rootCmd := &cobra.Command{
		Use:     "tpmd",
		Short:   "Type-C port manager daemon",
		Version: fmt.Sprintf("%s (%s)", version, buildHash),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, log)
		},
	}

	rootCmd.Flags().StringP("config", "c", "", "path to a YAML config file")
	rootCmd.Flags().String("i2c-bus", "1", "periph.io I2C bus identifier the TCPC is attached to")
	rootCmd.Flags().Uint8("i2c-address", 0x22, "I2C address of the TCPC (informational; derived from its part number)")
	rootCmd.Flags().String("http-addr", ":8080", "address for the status JSON API")
	rootCmd.Flags().String("metrics-addr", ":9090", "address for the combined Prometheus metrics endpoint")
	rootCmd.Flags().String("port-type", "sink", "port role: sink, source or drp")
	rootCmd.Flags().String("log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.Flags().Bool("simulate", false, "use an in-memory simulated controller instead of real I2C hardware")

	rootCmd.Flags().String("sink-dpm", "", "sink device policy manager to use instead of the default selection: \"\", cc, cv or cp")
	rootCmd.Flags().Uint16("sink-dpm-min-voltage-mv", 3300, "sink DPM: minimum acceptable voltage")
	rootCmd.Flags().Uint16("sink-dpm-max-voltage-mv", 20000, "sink DPM: maximum acceptable voltage")
	rootCmd.Flags().Uint16("sink-dpm-min-current-ma", 1000, "cc sink DPM: minimum current to maintain")
	rootCmd.Flags().Uint16("sink-dpm-max-current-ma", 3000, "cc sink DPM: maximum current to maintain")
	rootCmd.Flags().Uint16("sink-dpm-current-ma", 3000, "cv sink DPM: current to request at the negotiated voltage")
	rootCmd.Flags().Uint16("sink-dpm-power-mw", 15000, "cp sink DPM: power to request at the negotiated voltage")
	rootCmd.Flags().Bool("sink-dpm-prefer-lower-voltage", false, "sink DPM: prefer the lowest fitting voltage over the highest")
	rootCmd.Flags().Bool("sink-dpm-prefer-pps", false, "cv/cp sink DPM: prefer a programmable profile over a fixed one")
	rootCmd.Flags().Bool("sink-dpm-log", false, "log every source capability the sink DPM evaluates")

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("tpmd: fatal error")
	}
}

func run(cmd *cobra.Command, log *logrus.Logger) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("tpmd: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("tpmd: log-level: %w", err)
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(log)

	board, err := cfg.BoardConfig(entry.WithField("subsystem", "tcdpm"))
	if err != nil {
		return fmt.Errorf("tpmd: %w", err)
	}

	simulate, _ := cmd.Flags().GetBool("simulate")
	var tpcIf tpc.Interface
	if simulate {
		entry.Info("tpmd: using simulated TPC")
		tpcIf = tpcsim.New()
	} else {
		tpcIf, err = openFUSB302(cfg, entry)
		if err != nil {
			return fmt.Errorf("tpmd: %w", err)
		}
	}

	port, err := typec.Register(tpcIf, board, entry.WithField("subsystem", "port"))
	if err != nil {
		return fmt.Errorf("tpmd: register port: %w", err)
	}

	portMetrics := metrics.New(port.ID()[:8])
	wireMetrics(port, portMetrics, entry)

	httpSrv := httpapi.New(cfg.HTTPAddr, entry)
	httpSrv.AddPort(port, portMetrics)

	metricsSrv := newMetricsServer(cfg.MetricsAddr, portMetrics.Registry())

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.Start() }()
	go func() { errCh <- metricsSrv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		entry.WithField("signal", sig.String()).Info("tpmd: shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Error("tpmd: server error, shutting down")
		}
	}

	port.Unregister()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	_ = metricsSrv.Shutdown(ctx)
	return nil
}

// openFUSB302 brings up the periph.io host drivers, opens the configured I2C
// bus and wraps it in a fusb302.FUSB302, the only real-silicon tpc.Interface
// this daemon ships.
func openFUSB302(cfg *config.Config, log *logrus.Entry) (tpc.Interface, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.I2CBus, err)
	}
	if err := bus.SetSpeed(1000000); err != nil {
		log.WithError(err).Warn("tpmd: could not raise i2c bus speed")
	}
	log.WithFields(logrus.Fields{"bus": cfg.I2CBus, "addr": fmt.Sprintf("0x%02x", cfg.I2CAddress)}).Info("tpmd: using FUSB302 over I2C")
	return fusb302.New(bus, fusb302.FUSB302BUCX), nil
}

// wireMetrics hooks the port's connect/disconnect/transition callbacks to
// the Prometheus collectors, and logs attach and detach at info level.
// Transitions update metrics only; they are not logged here.
func wireMetrics(port *typec.Port, pm *metrics.PortMetrics, log *logrus.Entry) {
	port.SetConnectHandler(func() {
		pm.Attach()
		log.WithField("port", port.ID()).Info("tpmd: port attached")
	})
	port.SetDisconnectHandler(func() {
		pm.Detach()
		pm.SetExplicitContract(false)
		log.WithField("port", port.ID()).Info("tpmd: port detached")
	})
	port.SetTransitionHandler(func(from, to string) {
		pm.Transition(to)
		switch to {
		case "HARD_RESET_SEND":
			pm.HardReset(true)
		case "HARD_RESET_START":
			pm.HardReset(false)
		}
		pm.SetExplicitContract(port.PowerOpMode() == typec.PowerOpModePD)
		pm.SetPowerRole(port.PowerRole() == pdmsg.PowerRoleSource)
	})
}

func newMetricsServer(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
