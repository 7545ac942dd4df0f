package services

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/lyallcooper/scanstream/internal/sse"
	"github.com/lyallcooper/scanstream/internal/types"
)

// LogSink is an EventSink for scans nobody is streaming, such as scheduled
// runs. Lifecycle events are logged at info, progress and findings at V(1).
type LogSink struct {
	log logr.Logger

	mu       sync.Mutex
	findings int
	ended    bool
}

var _ EventSink = (*LogSink)(nil)

// NewLogSink creates a sink writing to log
func NewLogSink(log logr.Logger) *LogSink {
	return &LogSink{log: log}
}

// Send logs one event
func (l *LogSink) Send(event string, payload any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ended {
		return
	}

	switch p := payload.(type) {
	case types.StatusPayload:
		l.log.Info(p.Message, "phase", p.Phase)
	case types.ProgressPayload:
		l.log.V(1).Info("progress", "percent", p.Percent, "message", p.Message)
	case types.Finding:
		l.findings++
		l.log.V(1).Info("finding", "rule", p.RuleID, "impact", p.Impact, "selector", p.Selector)
	case *types.Result:
		l.log.Info("complete", "score", p.Score, "issues", p.TotalIssues)
	case types.ErrorPayload:
		l.log.Info("error", "message", p.Message)
	default:
		l.log.V(1).Info(event)
	}
	if event == sse.EventError || event == sse.EventComplete {
		l.log.V(1).Info("findings streamed", "count", l.findings)
	}
}

// End marks the sink finished
func (l *LogSink) End() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = true
}

// Findings returns how many findings were streamed
func (l *LogSink) Findings() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.findings
}
