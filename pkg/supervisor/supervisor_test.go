package supervisor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/boinc-supervisor/internal/logging"
	"github.com/srediag/boinc-supervisor/pkg/health"
	"github.com/srediag/boinc-supervisor/pkg/lifecycle"
	"github.com/srediag/boinc-supervisor/pkg/shm"
)

type event struct {
	id   shm.ChannelID
	text string
	err  error
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Message(id shm.ChannelID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{id: id, text: text})
}

func (r *recorder) DecodeError(id shm.ChannelID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{id: id, err: err})
}

func (r *recorder) take() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := r.events
	r.events = nil
	return ev
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

type SupervisorTestSuite struct {
	suite.Suite
	mem     []byte
	region  *shm.Region
	cfg     *Config
	rec     *recorder
	token   *lifecycle.Token
	metrics *Metrics
}

func (s *SupervisorTestSuite) SetupTest() {
	s.mem = make([]byte, shm.RegionSize)
	region, err := shm.NewRegionFromBytes(s.mem)
	s.Require().NoError(err)
	s.region = region
	s.cfg = DefaultConfig()
	s.rec = &recorder{}
	s.token = lifecycle.NewToken()
	s.metrics = NewMetrics(prometheus.NewRegistry())
}

func (s *SupervisorTestSuite) newSupervisor(opts ...Option) *Supervisor {
	opts = append([]Option{
		WithToken(s.token),
		WithReporter(s.rec),
		WithMetrics(s.metrics),
	}, opts...)
	sup, err := New(s.region, s.cfg, opts...)
	s.Require().NoError(err)
	return sup
}

// client writes into the region the way the foreign process does.
func (s *SupervisorTestSuite) client(id shm.ChannelID, text string) {
	s.Require().NoError(s.region.Channel(id).WriteMessageOverwrite(text))
}

func (s *SupervisorTestSuite) TestTick_SequenceAcrossTicks() {
	s.cfg.Channels = []shm.ChannelID{shm.AppStatus}
	sup := s.newSupervisor()
	ctx := context.Background()

	s.False(sup.Tick(ctx))
	s.Empty(s.rec.take())

	s.client(shm.AppStatus, "<current_cpu_time>12.5</current_cpu_time>")
	s.False(sup.Tick(ctx))
	s.Equal([]event{{id: shm.AppStatus, text: "<current_cpu_time>12.5</current_cpu_time>"}}, s.rec.take())

	s.False(sup.Tick(ctx))
	s.Empty(s.rec.take())
	s.Equal(float64(3), counterValue(s.metrics.ticks))
}

func (s *SupervisorTestSuite) TestTick_FixedOrder() {
	sup := s.newSupervisor()
	s.client(shm.TrickleUp, "trickle")
	s.client(shm.AppStatus, "status")
	s.client(shm.ProcessControlReply, "reply")

	s.False(sup.Tick(context.Background()))
	s.Equal([]event{
		{id: shm.ProcessControlReply, text: "reply"},
		{id: shm.AppStatus, text: "status"},
		{id: shm.TrickleUp, text: "trickle"},
	}, s.rec.take())
}

func (s *SupervisorTestSuite) TestTick_UnpolledChannelsUntouched() {
	sup := s.newSupervisor()
	s.client(shm.Heartbeat, "<heartbeat/>")

	s.False(sup.Tick(context.Background()))
	s.Empty(s.rec.take())
	s.True(s.region.Channel(shm.Heartbeat).HasMessage())
}

func (s *SupervisorTestSuite) TestTick_ErrorsDoNotBlockOtherChannels() {
	sup := s.newSupervisor()
	off := int(shm.AppStatus) * shm.SlotSize
	for i := off; i < off+shm.SlotSize; i++ {
		s.mem[i] = 'x'
	}
	reply := int(shm.ProcessControlReply) * shm.SlotSize
	copy(s.mem[reply:], []byte{1, 0xc3, 0x28, 0})
	s.client(shm.TrickleUp, "<msg/>")

	s.False(sup.Tick(context.Background()))
	ev := s.rec.take()
	s.Require().Len(ev, 3)
	s.Equal(shm.ProcessControlReply, ev[0].id)
	s.True(errors.Is(ev[0].err, shm.ErrInvalidEncoding))
	s.Equal(shm.AppStatus, ev[1].id)
	s.True(errors.Is(ev[1].err, shm.ErrNotTerminated))
	s.Equal(event{id: shm.TrickleUp, text: "<msg/>"}, ev[2])

	for _, id := range s.cfg.Channels {
		s.False(s.region.Channel(id).HasMessage(), "channel %s drained", id)
	}
	s.Equal(float64(1), counterValue(s.metrics.decodeErrors.WithLabelValues("AppStatus", "not_terminated")))
	s.Equal(float64(1), counterValue(s.metrics.decodeErrors.WithLabelValues("ProcessControlReply", "invalid_encoding")))
	s.Equal(float64(1), counterValue(s.metrics.messages.WithLabelValues("TrickleUp")))
}

func (s *SupervisorTestSuite) TestTick_CancelledBeforeAnyWork() {
	sup := s.newSupervisor()
	s.client(shm.AppStatus, "pending")
	s.Equal(lifecycle.Running, sup.State())

	s.token.Cancel()
	s.True(sup.Tick(context.Background()))
	s.Equal(lifecycle.Stopped, sup.State())
	s.Empty(s.rec.take())
	s.True(s.region.Channel(shm.AppStatus).HasMessage(), "stopped tick must not drain")
	s.True(sup.Tick(context.Background()), "stopped is terminal")
	s.Equal(float64(0), counterValue(s.metrics.ticks))
}

func (s *SupervisorTestSuite) TestSendStartup() {
	mon := health.NewMonitor(time.Second)
	sup := s.newSupervisor(WithHealth(mon))
	s.Error(mon.Ready())

	s.Require().NoError(sup.SendStartup(context.Background()))
	s.NoError(mon.Ready())
	s.Equal([]byte("\x01<resume/>\x00"), s.mem[:11])
	s.True(errors.Is(sup.SendStartup(context.Background()), ErrStartupAlreadySent))
	s.Equal(float64(1), counterValue(s.metrics.startupSends.WithLabelValues("ok")))
}

func (s *SupervisorTestSuite) TestSendStartup_TooLongIsSetupError() {
	s.cfg.StartupMessage.Text = strings.Repeat("r", shm.MaxMessageLen+1)
	sup := s.newSupervisor()

	err := sup.SendStartup(context.Background())
	s.True(errors.Is(err, shm.ErrSetup))
	s.True(errors.Is(err, shm.ErrTooLong))
	s.False(s.region.Channel(shm.ProcessControlRequest).HasMessage())
	s.Equal(float64(1), counterValue(s.metrics.startupSends.WithLabelValues("error")))

	s.True(errors.Is(sup.Run(context.Background()), shm.ErrSetup))
	s.Equal(float64(0), counterValue(s.metrics.ticks))
}

func (s *SupervisorTestSuite) TestSendStartup_Disabled() {
	s.cfg.StartupMessage = nil
	mon := health.NewMonitor(time.Second)
	sup := s.newSupervisor(WithHealth(mon))
	s.NoError(sup.SendStartup(context.Background()))
	s.NoError(mon.Ready())
	s.False(s.region.Channel(shm.ProcessControlRequest).HasMessage())
}

func (s *SupervisorTestSuite) TestRun_StopsOnToken() {
	sleeps := 0
	sup := s.newSupervisor(WithSleep(func(_ context.Context, d time.Duration) {
		s.Equal(100*time.Millisecond, d)
		sleeps++
		if sleeps == 2 {
			s.client(shm.TrickleUp, "between ticks")
		}
		if sleeps == 3 {
			s.token.Cancel()
		}
	}))

	s.NoError(sup.Run(context.Background()))
	s.Equal(lifecycle.Stopped, sup.State())
	s.Equal(3, sleeps)
	s.Equal(float64(3), counterValue(s.metrics.ticks))
	s.Equal([]event{{id: shm.TrickleUp, text: "between ticks"}}, s.rec.take())
	s.True(s.region.Channel(shm.ProcessControlRequest).HasMessage(), "startup message sent")
}

func (s *SupervisorTestSuite) TestRun_ContextCancel() {
	s.cfg.PollPeriod = 5 * time.Millisecond
	sup := s.newSupervisor()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.FailNow("Run did not stop after context cancellation")
	}
	s.True(s.token.Cancelled())
	s.Equal(lifecycle.Stopped, sup.State())
}

func TestSupervisorTestSuite(t *testing.T) {
	suite.Run(t, new(SupervisorTestSuite))
}

func TestNew_RejectsBadInput(t *testing.T) {
	region, err := shm.NewRegionFromBytes(make([]byte, shm.RegionSize))
	require.NoError(t, err)

	_, err = New(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Channels = append(cfg.Channels, shm.ChannelID(8))
	_, err = New(region, cfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNew_CopiesChannelList(t *testing.T) {
	region, err := shm.NewRegionFromBytes(make([]byte, shm.RegionSize))
	require.NoError(t, err)
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Channels = []shm.ChannelID{shm.AppStatus}
	sup, err := New(region, cfg, WithReporter(rec))
	require.NoError(t, err)

	cfg.Channels[0] = shm.TrickleUp
	require.NoError(t, region.Channel(shm.AppStatus).WriteMessageOverwrite("a"))
	sup.Tick(context.Background())
	assert.Equal(t, []event{{id: shm.AppStatus, text: "a"}}, rec.take())
}

func TestLogReporter(t *testing.T) {
	old := logging.Level()
	logging.SetLevel(logging.LevelInfo)
	defer logging.SetLevel(old)

	var out bytes.Buffer
	r := NewLogReporter(logging.New("", &out))
	r.Message(shm.AppStatus, "<status/>")
	r.DecodeError(shm.TrickleUp, shm.ErrNotTerminated)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "got AppStatus: <status/>")
	assert.Contains(t, lines[0], "supervisor_test.go:", "location is the reporter's caller")
	assert.Contains(t, lines[1], "TrickleUp error: message is not null-terminated")
}
