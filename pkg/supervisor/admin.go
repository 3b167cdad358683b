package supervisor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/boinc-supervisor/internal/logging"
	"github.com/srediag/boinc-supervisor/pkg/health"
)

const adminShutdownTimeout = 2 * time.Second

// Admin serves health checks and metrics. It never touches the shared region.
type Admin struct {
	addr    string
	handler http.Handler
	logger  *logging.Logger
}

// NewAdmin builds the admin listener for addr.
func NewAdmin(addr string, gatherer prometheus.Gatherer, monitor *health.Monitor, logger *logging.Logger) *Admin {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if monitor != nil {
		mux.Handle("/live", monitor.Handler())
		mux.Handle("/ready", monitor.Handler())
		mux.Handle("/channels", monitor.ChannelsHandler())
	}
	return &Admin{addr: addr, handler: mux, logger: logger}
}

// Handler returns the admin routes.
func (a *Admin) Handler() http.Handler {
	return a.handler
}

// Run listens until ctx is done.
func (a *Admin) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	if a.logger != nil {
		a.logger.Infof("admin listening on %s", ln.Addr())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
