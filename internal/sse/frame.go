// Package sse implements the scan event stream: the frame codec shared by both
// ends, the server-side Emitter and the client-side Decoder.
//
// A frame on the wire is
//
//	event:<name>\n
//	data:<json>\n
//	\n
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
)

var delimiter = []byte("\n\n")

// Frame is one wire-level unit: an event name and its raw JSON data
type Frame struct {
	Event string
	Data  string
}

// EncodeFrame renders a single frame for event with payload marshalled as JSON
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	buf := make([]byte, 0, len(eventPrefix)+len(event)+len(dataPrefix)+len(data)+3)
	buf = append(buf, eventPrefix...)
	buf = append(buf, event...)
	buf = append(buf, '\n')
	buf = append(buf, dataPrefix...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	return buf, nil
}

// ScanFrames extracts every complete frame from buf. A frame is complete only
// once its terminating blank line is present; the bytes after the last
// terminator are returned as remainder for the next read.
//
// Segments with empty data (keep-alive pings) or data that is not valid JSON
// are dropped without error.
func ScanFrames(buf []byte) (frames []Frame, remainder []byte) {
	for {
		i := bytes.Index(buf, delimiter)
		if i < 0 {
			return frames, buf
		}
		segment := buf[:i]
		buf = buf[i+len(delimiter):]

		if f, ok := parseFrame(segment); ok {
			frames = append(frames, f)
		}
	}
}

// parseFrame splits a segment on its first newline into the event line and the data line
func parseFrame(segment []byte) (Frame, bool) {
	// Stray blank lines between frames leave leading newlines on the next segment
	segment = bytes.TrimLeft(segment, "\r\n")

	head, tail, _ := bytes.Cut(segment, []byte("\n"))

	event := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(head)), eventPrefix))
	data := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(tail)), dataPrefix))

	if data == "" {
		return Frame{}, false
	}
	if !json.Valid([]byte(data)) {
		return Frame{}, false
	}

	return Frame{Event: event, Data: data}, true
}
