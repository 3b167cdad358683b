// Command boinc-supervisor maps the shared region of a BOINC client slot, resumes the
// application and logs every message it leaves in the polled channels until interrupted.
//
// Configuration comes from the YAML file named by BOINC_SUPERVISOR_CONFIG, if any, and
// the BOINC_SUPERVISOR_* environment variables. Set BOINC_SUPERVISOR_DUMP to print the
// state of every channel and exit without sending or draining anything.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/srediag/boinc-supervisor/internal/logging"
	"github.com/srediag/boinc-supervisor/pkg/health"
	"github.com/srediag/boinc-supervisor/pkg/lifecycle"
	"github.com/srediag/boinc-supervisor/pkg/shm"
	"github.com/srediag/boinc-supervisor/pkg/supervisor"
)

const (
	serviceName = "boinc-supervisor"
	envDump     = "BOINC_SUPERVISOR_DUMP"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := logging.New(serviceName, os.Stdout)

	cfg, err := supervisor.LoadConfig(os.Getenv(supervisor.EnvConfigFile))
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	if err := supervisor.ApplyEnv(cfg); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	if err := supervisor.VerifyConfig(cfg); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	if cfg.LogLevel != "" {
		lv, _ := logging.ParseLevel(cfg.LogLevel)
		logging.SetLevel(lv)
	}

	token := lifecycle.NewToken()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		token.Cancel()
	}()

	region, err := shm.Open(context.Background(), shm.OpenOptions{Path: cfg.MmapFile})
	if err != nil {
		logger.Errorf("failed mapping file %s: %v", cfg.MmapFile, err)
		return 1
	}
	defer func() {
		if err := region.Close(); err != nil {
			logger.Warnf("region close: %v", err)
		}
	}()

	if os.Getenv(envDump) != "" {
		if err := region.Dump(os.Stdout); err != nil {
			logger.Errorf("dump: %v", err)
			return 1
		}
		return 0
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	monitor := health.NewMonitor(3*cfg.PollPeriod+time.Second, health.WithRegistry(reg, "boinc_supervisor"))

	sup, err := supervisor.New(region, cfg,
		supervisor.WithToken(token),
		supervisor.WithReporter(supervisor.NewLogReporter(logger)),
		supervisor.WithMetrics(supervisor.NewMetrics(reg)),
		supervisor.WithHealth(monitor),
		supervisor.WithTracer(otel.Tracer(serviceName)),
		supervisor.WithMeter(otel.Meter(serviceName)),
	)
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	logger.Infof("supervising %s, polling %v every %s", cfg.MmapFile, cfg.Channels, cfg.PollPeriod)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return sup.Run(gctx)
	})
	if cfg.AdminAddr != "" {
		admin := supervisor.NewAdmin(cfg.AdminAddr, reg, monitor, logger)
		g.Go(func() error {
			return admin.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	logger.Infof("stopped")
	return 0
}
