package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lyallcooper/scanstream/internal/db"
	"github.com/lyallcooper/scanstream/internal/engine"
	"github.com/lyallcooper/scanstream/internal/sse"
	"github.com/lyallcooper/scanstream/internal/types"
	"github.com/lyallcooper/scanstream/internal/webhook"
)

const (
	startMessage    = "Starting scan..."
	startPhase      = "init"
	fallbackMessage = "Scan failed"
)

// EventSink receives the events of one scan. Send and End must be safe for
// concurrent use. A sink may also implement Ping() for keep-alives and
// Err() error to report that the receiving end has gone away.
type EventSink interface {
	Send(event string, payload any)
	End()
}

type pinger interface {
	Ping()
}

type errReporter interface {
	Err() error
}

// Dispatcher delivers named events to webhook subscribers without blocking
type Dispatcher interface {
	Dispatch(event string, payload any)
}

// RunStore records scan history
type RunStore interface {
	CreateScanRun(url, standard string, scheduleID *int64) (*db.ScanRun, error)
	CompleteScanRun(id string, score, totalIssues int, b types.SeverityBreakdown) error
	FailScanRun(id string, status db.ScanRunStatus, errorMsg string) error
	SetScanRunReport(id, key string) error
}

// Archiver stores completed results and returns their object key
type Archiver interface {
	Archive(ctx context.Context, runID string, result *types.Result) (string, error)
}

// CompletedEvent is the scan.completed webhook payload
type CompletedEvent struct {
	URL         string `json:"url"`
	Score       int    `json:"score"`
	TotalIssues int    `json:"totalIssues"`
	types.SeverityBreakdown
}

// CriticalEvent is the critical.found webhook payload
type CriticalEvent struct {
	URL      string          `json:"url"`
	Critical int             `json:"critical"`
	Findings []types.Finding `json:"findings"`
}

// FailedEvent is the scan.failed webhook payload
type FailedEvent struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Scanner orchestrates scans: it drives the engine, streams its callbacks to
// a sink and notifies webhooks of the outcome
type Scanner struct {
	engine     engine.Engine
	dispatcher Dispatcher
	store      RunStore
	archiver   Archiver
	log        logr.Logger
	tracer     trace.Tracer

	scanTimeout time.Duration
	heartbeat   time.Duration

	// Active scans and their cancellation functions
	mu          sync.RWMutex
	activeScans map[string]context.CancelFunc
}

// Option configures a Scanner
type Option func(*Scanner)

// WithStore records every run in store
func WithStore(store RunStore) Option {
	return func(s *Scanner) { s.store = store }
}

// WithArchiver uploads completed results
func WithArchiver(a Archiver) Option {
	return func(s *Scanner) { s.archiver = a }
}

// WithLogger sets the logger
func WithLogger(log logr.Logger) Option {
	return func(s *Scanner) { s.log = log }
}

// WithTracer sets the tracer used for scan spans
func WithTracer(t trace.Tracer) Option {
	return func(s *Scanner) { s.tracer = t }
}

// WithScanTimeout bounds each scan. Zero means no limit.
func WithScanTimeout(d time.Duration) Option {
	return func(s *Scanner) { s.scanTimeout = d }
}

// WithHeartbeat sets the keep-alive interval for sinks that support it
func WithHeartbeat(d time.Duration) Option {
	return func(s *Scanner) { s.heartbeat = d }
}

// NewScanner creates a new scanner service
func NewScanner(eng engine.Engine, dispatcher Dispatcher, opts ...Option) *Scanner {
	s := &Scanner{
		engine:      eng,
		dispatcher:  dispatcher,
		log:         logr.Discard(),
		tracer:      otel.Tracer("github.com/lyallcooper/scanstream/internal/services"),
		heartbeat:   15 * time.Second,
		activeScans: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type runConfig struct {
	scheduleID *int64
}

// RunOption configures a single run
type RunOption func(*runConfig)

// WithScheduleID links the run to the schedule that triggered it
func WithScheduleID(id int64) RunOption {
	return func(c *runConfig) { c.scheduleID = &id }
}

// Run executes one scan, writing its lifecycle to sink. The sink is ended
// exactly once before Run returns, whatever happens. The returned error is
// the engine failure, if any; it has already been reported to the sink.
func (s *Scanner) Run(ctx context.Context, req types.ScanRequest, sink EventSink, opts ...RunOption) (err error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	log := s.log.WithValues("url", req.URL)

	// terminal is set once complete or error has been written to sink
	var terminal bool
	var runID string

	defer sink.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan orchestration panicked: %v", r)
			log.Error(err, "recovered")
			if !terminal {
				sink.Send(sse.EventError, types.ErrorPayload{Message: fallbackMessage})
				s.recordFailure(log, runID, err, fallbackMessage)
			}
		}
	}()

	ctx, span := s.tracer.Start(ctx, "scan.run", trace.WithAttributes(
		attribute.String("scan.url", req.URL),
		attribute.String("scan.standard", req.Standard),
	))
	defer span.End()

	scanCtx, cancel := s.scanContext(ctx)
	defer cancel()

	runID = s.recordStart(log, req, cfg.scheduleID)
	if runID != "" {
		span.SetAttributes(attribute.String("scan.run_id", runID))
		log = log.WithValues("run", runID)
		s.track(runID, cancel)
		defer s.untrack(runID)
	}

	sink.Send(sse.EventStatus, types.StatusPayload{Message: startMessage, Phase: startPhase})

	stopHeartbeat := s.keepAlive(scanCtx, cancel, sink)
	defer stopHeartbeat()

	log.V(1).Info("scan started")
	result, err := s.runEngine(scanCtx, cancel, req, sink)
	if err != nil {
		msg := s.failureMessage(scanCtx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		log.Info("scan failed", "error", msg)

		terminal = true
		sink.Send(sse.EventError, types.ErrorPayload{Message: msg})
		s.recordFailure(log, runID, err, msg)
		s.dispatcher.Dispatch(webhook.EventScanFailed, FailedEvent{URL: req.URL, Error: msg})
		return err
	}

	breakdown := types.CountBySeverity(result.Findings)
	span.SetAttributes(
		attribute.Int("scan.score", result.Score),
		attribute.Int("scan.total_issues", result.TotalIssues),
		attribute.Int("scan.critical", breakdown.Critical),
	)
	log.Info("scan completed", "score", result.Score, "issues", result.TotalIssues)

	terminal = true
	sink.Send(sse.EventComplete, result)
	s.recordCompletion(ctx, log, runID, result, breakdown)

	s.dispatcher.Dispatch(webhook.EventScanCompleted, CompletedEvent{
		URL:               req.URL,
		Score:             result.Score,
		TotalIssues:       result.TotalIssues,
		SeverityBreakdown: breakdown,
	})
	if breakdown.Critical > 0 {
		s.dispatcher.Dispatch(webhook.EventCriticalFound, CriticalEvent{
			URL:      req.URL,
			Critical: breakdown.Critical,
			Findings: criticalFindings(result.Findings),
		})
	}
	return nil
}

func (s *Scanner) scanContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.scanTimeout > 0 {
		return context.WithTimeout(ctx, s.scanTimeout)
	}
	return context.WithCancel(ctx)
}

// runEngine invokes the engine, forwarding callbacks to sink. A sink write
// failure cancels the scan.
func (s *Scanner) runEngine(ctx context.Context, cancel context.CancelFunc, req types.ScanRequest, sink EventSink) (result *types.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan engine panicked: %v", r)
		}
	}()

	checkSink := func() {
		if er, ok := sink.(errReporter); ok && er.Err() != nil {
			cancel()
		}
	}

	result, err = s.engine.Run(ctx, engine.OptionsFromRequest(req),
		func(p types.ProgressPayload) {
			sink.Send(sse.EventProgress, p)
			checkSink()
		},
		func(f types.Finding) {
			sink.Send(sse.EventFinding, f)
			checkSink()
		},
	)
	if err == nil && result == nil {
		err = errors.New("scan engine returned no result")
	}
	return result, err
}

func (s *Scanner) failureMessage(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("Scan timed out after %s", s.scanTimeout)
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallbackMessage
}

// keepAlive pings the sink periodically and cancels the scan once the sink
// reports a failed write
func (s *Scanner) keepAlive(ctx context.Context, cancel context.CancelFunc, sink EventSink) func() {
	p, canPing := sink.(pinger)
	er, canFail := sink.(errReporter)
	if s.heartbeat <= 0 || (!canPing && !canFail) {
		return func() {}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if canFail && er.Err() != nil {
					s.log.V(1).Info("client went away, cancelling scan")
					cancel()
					return
				}
				if canPing {
					p.Ping()
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

func (s *Scanner) recordStart(log logr.Logger, req types.ScanRequest, scheduleID *int64) string {
	if s.store == nil {
		return ""
	}
	standard := req.Standard
	if standard == "" {
		standard = engine.DefaultStandard
	}
	run, err := s.store.CreateScanRun(req.URL, standard, scheduleID)
	if err != nil {
		log.Error(err, "failed to record scan run")
		return ""
	}
	return run.ID
}

func (s *Scanner) recordFailure(log logr.Logger, runID string, err error, msg string) {
	if s.store == nil || runID == "" {
		return
	}
	status := db.ScanRunStatusFailed
	if errors.Is(err, context.Canceled) {
		status = db.ScanRunStatusCancelled
	}
	if err := s.store.FailScanRun(runID, status, msg); err != nil {
		log.Error(err, "failed to update scan run")
	}
}

func (s *Scanner) recordCompletion(ctx context.Context, log logr.Logger, runID string, result *types.Result, b types.SeverityBreakdown) {
	if s.store == nil || runID == "" {
		return
	}
	if err := s.store.CompleteScanRun(runID, result.Score, result.TotalIssues, b); err != nil {
		log.Error(err, "failed to update scan run")
	}

	if s.archiver == nil {
		return
	}
	// The request may already be gone; archiving is not tied to it
	key, err := s.archiver.Archive(context.WithoutCancel(ctx), runID, result)
	if err != nil {
		log.Error(err, "failed to archive report")
		return
	}
	if err := s.store.SetScanRunReport(runID, key); err != nil {
		log.Error(err, "failed to record report key")
	}
}

func criticalFindings(findings []types.Finding) []types.Finding {
	var out []types.Finding
	for _, f := range findings {
		if f.Impact == types.ImpactCritical {
			out = append(out, f)
		}
	}
	return out
}

func (s *Scanner) track(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.activeScans[runID] = cancel
	s.mu.Unlock()
}

func (s *Scanner) untrack(runID string) {
	s.mu.Lock()
	delete(s.activeScans, runID)
	s.mu.Unlock()
}

// CancelScan cancels an active scan and reports whether it was running
func (s *Scanner) CancelScan(runID string) bool {
	s.mu.RLock()
	cancel, ok := s.activeScans[runID]
	s.mu.RUnlock()

	if ok {
		cancel()
	}
	return ok
}

// IsRunning checks if a scan is currently running
func (s *Scanner) IsRunning(runID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.activeScans[runID]
	return ok
}

// CancelAll cancels every active scan
func (s *Scanner) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cancel := range s.activeScans {
		cancel()
	}
}
