package sse

import (
	"encoding/json"

	"github.com/lyallcooper/scanstream/internal/types"
)

// Event names used on the wire
const (
	EventStatus   = "status"
	EventProgress = "progress"
	EventFinding  = "finding"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is a decoded frame. The set of implementations is closed; use Dispatch
// or a type switch over the five concrete types.
type Event interface {
	Name() string
	isEvent()
}

// StatusEvent marks the stream active
type StatusEvent struct{ Payload types.StatusPayload }

// ProgressEvent overwrites the current percent
type ProgressEvent struct{ Payload types.ProgressPayload }

// FindingEvent appends one finding
type FindingEvent struct{ Finding types.Finding }

// CompleteEvent carries the final result. Terminal.
type CompleteEvent struct{ Result types.Result }

// ErrorEvent carries an in-stream failure. Terminal.
type ErrorEvent struct{ Payload types.ErrorPayload }

func (StatusEvent) Name() string   { return EventStatus }
func (ProgressEvent) Name() string { return EventProgress }
func (FindingEvent) Name() string  { return EventFinding }
func (CompleteEvent) Name() string { return EventComplete }
func (ErrorEvent) Name() string    { return EventError }

func (StatusEvent) isEvent()   {}
func (ProgressEvent) isEvent() {}
func (FindingEvent) isEvent()  {}
func (CompleteEvent) isEvent() {}
func (ErrorEvent) isEvent()    {}

// ParseEvent decodes a frame into its typed event. Unknown event names and
// payloads that do not fit the event's shape report false.
func ParseEvent(f Frame) (Event, bool) {
	data := []byte(f.Data)
	switch f.Event {
	case EventStatus:
		var p types.StatusPayload
		if json.Unmarshal(data, &p) != nil {
			return nil, false
		}
		return StatusEvent{Payload: p}, true
	case EventProgress:
		var p types.ProgressPayload
		if json.Unmarshal(data, &p) != nil {
			return nil, false
		}
		return ProgressEvent{Payload: p}, true
	case EventFinding:
		var p types.Finding
		if json.Unmarshal(data, &p) != nil {
			return nil, false
		}
		return FindingEvent{Finding: p}, true
	case EventComplete:
		var p types.Result
		if json.Unmarshal(data, &p) != nil {
			return nil, false
		}
		return CompleteEvent{Result: p}, true
	case EventError:
		var p types.ErrorPayload
		if json.Unmarshal(data, &p) != nil {
			return nil, false
		}
		return ErrorEvent{Payload: p}, true
	}
	return nil, false
}

// Handler receives decoded events, one method per event kind
type Handler interface {
	OnStatus(types.StatusPayload)
	OnProgress(types.ProgressPayload)
	OnFinding(types.Finding)
	OnComplete(types.Result)
	OnError(types.ErrorPayload)
}

// Dispatch routes ev to the matching method of h
func Dispatch(h Handler, ev Event) {
	switch e := ev.(type) {
	case StatusEvent:
		h.OnStatus(e.Payload)
	case ProgressEvent:
		h.OnProgress(e.Payload)
	case FindingEvent:
		h.OnFinding(e.Finding)
	case CompleteEvent:
		h.OnComplete(e.Result)
	case ErrorEvent:
		h.OnError(e.Payload)
	}
}

// HandlerFuncs adapts optional callbacks to a Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Status   func(types.StatusPayload)
	Progress func(types.ProgressPayload)
	Finding  func(types.Finding)
	Complete func(types.Result)
	Error    func(types.ErrorPayload)
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) OnStatus(p types.StatusPayload) {
	if h.Status != nil {
		h.Status(p)
	}
}

func (h HandlerFuncs) OnProgress(p types.ProgressPayload) {
	if h.Progress != nil {
		h.Progress(p)
	}
}

func (h HandlerFuncs) OnFinding(f types.Finding) {
	if h.Finding != nil {
		h.Finding(f)
	}
}

func (h HandlerFuncs) OnComplete(r types.Result) {
	if h.Complete != nil {
		h.Complete(r)
	}
}

func (h HandlerFuncs) OnError(p types.ErrorPayload) {
	if h.Error != nil {
		h.Error(p)
	}
}
