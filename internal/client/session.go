package client

import (
	"context"
	"errors"
	"sync"

	"github.com/lyallcooper/scanstream/internal/sse"
	"github.com/lyallcooper/scanstream/internal/types"
)

// ErrScanInFlight is returned when starting a session that is already running
var ErrScanInFlight = errors.New("scan already in progress")

// Phase is the lifecycle state of a session
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseScanning   Phase = "scanning"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether no further transitions happen without a reset
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

// InitialPercent is shown as soon as a scan is requested
const InitialPercent = 10

const (
	msgScanFailed    = "Scan failed"
	msgUnknownError  = "Unknown error"
	msgStartFailed   = "Failed to start scan"
	msgNoBody        = "No response body"
	msgStreamEnded   = "Stream ended before the scan completed"
	msgStatusDefault = "Connecting..."
)

// State is a snapshot of a session. Error is empty unless Phase is PhaseError.
type State struct {
	Phase         Phase           `json:"phase"`
	Percent       float64         `json:"percent"`
	StatusMessage string          `json:"statusMessage,omitempty"`
	Findings      []types.Finding `json:"findings"`
	Result        *types.Result   `json:"result"`
	Error         string          `json:"error,omitempty"`
}

// SessionOption configures a Session
type SessionOption func(*Session)

// OnChange is called with a snapshot after every state change
func OnChange(fn func(State)) SessionOption {
	return func(s *Session) { s.onChange = fn }
}

// OnFinding is called for every accepted finding
func OnFinding(fn func(types.Finding)) SessionOption {
	return func(s *Session) { s.onFinding = fn }
}

// OnComplete is called once when the scan completes
func OnComplete(fn func(types.Result)) SessionOption {
	return func(s *Session) { s.onComplete = fn }
}

// OnError is called once when the scan fails. Cancellation does not call it.
func OnError(fn func(string)) SessionOption {
	return func(s *Session) { s.onError = fn }
}

// Session tracks one scan at a time. Callbacks run on the session's read
// goroutine, or on the goroutine calling Cancel or Reset. Callbacks may call
// Cancel, Reset and Start.
type Session struct {
	client *Client

	onChange   func(State)
	onFinding  func(types.Finding)
	onComplete func(types.Result)
	onError    func(string)

	mu     sync.Mutex
	state  State
	gen    uint64 // bumped by Start and Reset; events from older runs are dropped
	cancel context.CancelFunc
	done   chan struct{}
}

// Start begins streaming req. It returns once the session has entered the
// connecting phase; progress is reported through callbacks and Snapshot.
// A terminal session is reset first. A running session returns ErrScanInFlight.
func (s *Session) Start(ctx context.Context, req types.ScanRequest) error {
	s.mu.Lock()
	if s.active() {
		s.mu.Unlock()
		return ErrScanInFlight
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.gen++
	s.cancel = cancel
	s.done = done
	s.state = State{
		Phase:         PhaseConnecting,
		Percent:       InitialPercent,
		StatusMessage: msgStatusDefault,
	}
	snap := s.snapshotLocked()
	h := stream{s: s, gen: s.gen}
	s.mu.Unlock()

	s.notify(snap)

	go h.run(runCtx, cancel, done, req)
	return nil
}

// stream feeds one run's events into its session. Once the session has been
// reset or restarted, its events are ignored.
type stream struct {
	s   *Session
	gen uint64
}

var _ sse.Handler = stream{}

func (h stream) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, req types.ScanRequest) {
	defer close(done)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
			}
		}()
		err = h.s.client.Stream(ctx, req, h)
	}()

	h.finish(err)
}

// panicError converts a recovered value into an error. Only errors keep
// their text.
func panicError(r any) error {
	if err, ok := r.(error); ok && err.Error() != "" {
		return err
	}
	return errors.New(msgUnknownError)
}

// finish settles a run whose read loop has returned
func (h stream) finish(err error) {
	switch {
	case err == nil:
		h.s.fail(h.gen, msgStreamEnded)
	case errors.Is(err, context.Canceled):
		h.s.markCancelled(h.gen)
	default:
		h.s.fail(h.gen, failureMessage(err))
	}
}

func failureMessage(err error) string {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.Message
	case errors.Is(err, ErrNoBody):
		return msgNoBody
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgUnknownError
}

// Cancel aborts an in-flight scan. The session moves to cancelled at once;
// events still in transit are ignored. Cancel on an idle or finished session
// does nothing.
func (s *Session) Cancel() {
	s.mu.Lock()
	gen, cancel := s.gen, s.cancel
	s.mu.Unlock()

	s.markCancelled(gen)
	if cancel != nil {
		cancel()
	}
}

func (s *Session) markCancelled(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.active() {
		s.mu.Unlock()
		return
	}
	s.state.Phase = PhaseCancelled
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// Reset cancels any running scan and returns the session to idle with all
// accumulated state cleared. It does not wait for the old read loop; use
// Done for that.
func (s *Session) Reset() {
	s.Cancel()

	s.mu.Lock()
	s.gen++
	s.state = State{Phase: PhaseIdle}
	s.cancel = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// Done is closed when the most recent read loop exits. For a session that
// was never started it is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return s.done
}

// Wait blocks until the read loop exits or ctx is done, then returns the
// current state
func (s *Session) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.Done():
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := s.state
	st.Findings = append([]types.Finding(nil), s.state.Findings...)
	if s.state.Result != nil {
		r := *s.state.Result
		st.Result = &r
	}
	return st
}

// active reports whether a scan is connecting or scanning. Callers hold mu.
func (s *Session) active() bool {
	return s.state.Phase == PhaseConnecting || s.state.Phase == PhaseScanning
}

// update applies fn if run gen is still current and active, and reports
// whether it ran
func (s *Session) update(gen uint64, fn func(st *State)) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.active() {
		return State{}, false
	}
	fn(&s.state)
	return s.snapshotLocked(), true
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

func (s *Session) notify(st State) {
	if s.onChange != nil {
		s.onChange(st)
	}
}

// notifyRun reports st unless a callback has since reset or restarted the
// session
func (s *Session) notifyRun(gen uint64, st State) {
	if s.current(gen) {
		s.notify(st)
	}
}

// OnStatus marks the stream active
func (h stream) OnStatus(p types.StatusPayload) {
	snap, ok := h.s.update(h.gen, func(st *State) {
		st.Phase = PhaseScanning
		if p.Message != "" {
			st.StatusMessage = p.Message
		}
	})
	if ok {
		h.s.notify(snap)
	}
}

// OnProgress overwrites the current percent
func (h stream) OnProgress(p types.ProgressPayload) {
	snap, ok := h.s.update(h.gen, func(st *State) {
		st.Phase = PhaseScanning
		st.Percent = p.Percent
		if p.Message != "" {
			st.StatusMessage = p.Message
		}
	})
	if ok {
		h.s.notify(snap)
	}
}

// OnFinding appends f to the findings in order of receipt
func (h stream) OnFinding(f types.Finding) {
	snap, ok := h.s.update(h.gen, func(st *State) {
		st.Findings = append(st.Findings, f)
	})
	if !ok {
		return
	}
	if h.s.onFinding != nil {
		h.s.onFinding(f)
	}
	h.s.notifyRun(h.gen, snap)
}

// OnComplete records the final result
func (h stream) OnComplete(r types.Result) {
	snap, ok := h.s.update(h.gen, func(st *State) {
		st.Phase = PhaseComplete
		st.Percent = 100
		st.Result = &r
	})
	if !ok {
		return
	}
	if h.s.onComplete != nil {
		h.s.onComplete(r)
	}
	h.s.notifyRun(h.gen, snap)
}

// OnError records an in-stream failure
func (h stream) OnError(p types.ErrorPayload) {
	msg := p.Message
	if msg == "" {
		msg = msgScanFailed
	}
	h.s.fail(h.gen, msg)
}

func (s *Session) fail(gen uint64, msg string) {
	snap, ok := s.update(gen, func(st *State) {
		st.Phase = PhaseError
		st.Error = msg
	})
	if !ok {
		return
	}
	if s.onError != nil {
		s.onError(msg)
	}
	s.notifyRun(gen, snap)
}
