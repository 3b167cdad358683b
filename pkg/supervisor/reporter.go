package supervisor

import (
	"github.com/srediag/boinc-supervisor/internal/logging"
	"github.com/srediag/boinc-supervisor/pkg/shm"
)

// Reporter receives what the loop drains from the region.
// Calls are made from the polling goroutine, one channel at a time.
type Reporter interface {
	Message(id shm.ChannelID, text string)
	DecodeError(id shm.ChannelID, err error)
}

// LogReporter writes one log line per event.
type LogReporter struct {
	Logger *logging.Logger
}

// NewLogReporter returns a LogReporter over l.
func NewLogReporter(l *logging.Logger) *LogReporter {
	return &LogReporter{Logger: l.Skip(1)}
}

func (r *LogReporter) Message(id shm.ChannelID, text string) {
	r.Logger.Infof("got %s: %s", id, text)
}

func (r *LogReporter) DecodeError(id shm.ChannelID, err error) {
	r.Logger.Warnf("%s error: %v", id, err)
}
