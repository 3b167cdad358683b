// Package supervisor polls the shared region on a fixed period and reports what the
// client process leaves in its channels.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/boinc-supervisor/internal/logging"
	"github.com/srediag/boinc-supervisor/pkg/health"
	"github.com/srediag/boinc-supervisor/pkg/lifecycle"
	"github.com/srediag/boinc-supervisor/pkg/shm"
)

const instrumentationName = "github.com/srediag/boinc-supervisor/pkg/supervisor"

// ErrStartupAlreadySent is returned by a second SendStartup call.
var ErrStartupAlreadySent = errors.New("startup message already sent")

// RegionAccessor hands out channel slots. *shm.Region implements it.
type RegionAccessor interface {
	Channel(id shm.ChannelID) shm.Slot
}

// Supervisor drives the polling loop. It is driven from a single goroutine;
// only the token may be touched from elsewhere.
type Supervisor struct {
	region   RegionAccessor
	cfg      Config
	token    *lifecycle.Token
	state    atomic.Int32
	reporter Reporter
	metrics  *Metrics
	monitor  *health.Monitor
	tracer   trace.Tracer
	counter  metric.Int64Counter
	sleep    func(ctx context.Context, d time.Duration)

	startupSent bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithToken injects the cancellation token, typically one flipped by a signal handler.
func WithToken(t *lifecycle.Token) Option {
	return func(s *Supervisor) { s.token = t }
}

// WithReporter replaces the default log reporter.
func WithReporter(r Reporter) Option {
	return func(s *Supervisor) { s.reporter = r }
}

// WithMetrics sets the Prometheus collectors to update.
func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithHealth sets the monitor fed by every tick.
func WithHealth(m *health.Monitor) Option {
	return func(s *Supervisor) { s.monitor = m }
}

// WithTracer sets the tracer for startup and tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Supervisor) { s.tracer = t }
}

// WithMeter sets the meter used for the supervisor.messages counter.
func WithMeter(m metric.Meter) Option {
	return func(s *Supervisor) {
		if c, err := m.Int64Counter("supervisor.messages",
			metric.WithDescription("Messages drained from the shared region."),
			metric.WithUnit("{message}"),
		); err == nil {
			s.counter = c
		}
	}
}

// WithSleep replaces the delay between ticks.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(s *Supervisor) { s.sleep = sleep }
}

// New returns a Supervisor in the Running state.
func New(region RegionAccessor, cfg *Config, opts ...Option) (*Supervisor, error) {
	if region == nil {
		return nil, errors.New("nil region")
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	s := &Supervisor{
		region: region,
		cfg:    *cfg,
		sleep:  sleepContext,
	}
	s.cfg.Channels = append([]shm.ChannelID(nil), cfg.Channels...)
	for _, opt := range opts {
		opt(s)
	}
	if s.token == nil {
		s.token = lifecycle.NewToken()
	}
	if s.reporter == nil {
		s.reporter = NewLogReporter(logging.New("supervisor", os.Stdout))
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.tracer == nil {
		s.tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	if s.counter == nil {
		s.counter, _ = metricnoop.NewMeterProvider().Meter(instrumentationName).Int64Counter("supervisor.messages")
	}
	if s.monitor != nil && s.cfg.StartupMessage == nil {
		s.monitor.SetReady(true)
	}
	return s, nil
}

// State reports whether the loop is still running.
func (s *Supervisor) State() lifecycle.State {
	return lifecycle.State(s.state.Load())
}

// Token returns the cancellation token observed by the loop.
func (s *Supervisor) Token() *lifecycle.Token {
	return s.token
}

// SendStartup writes the configured startup message. It may succeed only once.
// Any failure wraps shm.ErrSetup: the client cannot be supervised without it.
func (s *Supervisor) SendStartup(ctx context.Context) error {
	m := s.cfg.StartupMessage
	if m == nil {
		return nil
	}
	if s.startupSent {
		return ErrStartupAlreadySent
	}
	_, span := s.tracer.Start(ctx, "supervisor.startup", trace.WithAttributes(
		attribute.String("channel", m.Channel.String()),
	))
	defer span.End()

	err := s.region.Channel(m.Channel).WriteMessageOverwrite(m.Text)
	s.metrics.startup(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "startup send failed")
		return fmt.Errorf("%w: send startup message to %s: %w", shm.ErrSetup, m.Channel, err)
	}
	s.startupSent = true
	if s.monitor != nil {
		s.monitor.SetReady(true)
	}
	return nil
}

// Tick runs one iteration and reports whether the loop has stopped.
// A cancelled token stops the loop before any channel is touched.
func (s *Supervisor) Tick(ctx context.Context) bool {
	if s.State() == lifecycle.Stopped {
		return true
	}
	if s.token.Cancelled() {
		s.state.Store(int32(lifecycle.Stopped))
		return true
	}
	ctx, span := s.tracer.Start(ctx, "supervisor.tick")
	defer span.End()

	for _, id := range s.cfg.Channels {
		s.poll(ctx, id)
	}
	s.metrics.tick()
	if s.monitor != nil {
		s.monitor.Tick()
	}
	return false
}

func (s *Supervisor) poll(ctx context.Context, id shm.ChannelID) {
	msg, ok, err := s.region.Channel(id).TakeMessage()
	if !ok {
		return
	}
	if err != nil {
		s.metrics.decodeError(id, err)
		trace.SpanFromContext(ctx).RecordError(err, trace.WithAttributes(
			attribute.String("channel", id.String()),
		))
		s.reporter.DecodeError(id, err)
		return
	}
	s.metrics.message(id)
	s.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", id.String())))
	if s.monitor != nil {
		s.monitor.Seen(id.String())
	}
	s.reporter.Message(id, msg)
}

// Run sends the startup message if one is configured and not yet sent, then ticks every
// PollPeriod until the token is cancelled. Cancelling ctx cancels the token.
// It returns nil on a normal stop and a setup error if the startup send fails.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.StartupMessage != nil && !s.startupSent {
		if err := s.SendStartup(ctx); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, s.token.Cancel)
	defer stop()

	for !s.Tick(ctx) {
		s.sleep(ctx, s.cfg.PollPeriod)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
