package sse

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyallcooper/scanstream/internal/types"
)

// recorder collects dispatched events in order
type recorder struct {
	events []Event
}

func (r *recorder) OnStatus(p types.StatusPayload)     { r.events = append(r.events, StatusEvent{p}) }
func (r *recorder) OnProgress(p types.ProgressPayload) { r.events = append(r.events, ProgressEvent{p}) }
func (r *recorder) OnFinding(f types.Finding)          { r.events = append(r.events, FindingEvent{f}) }
func (r *recorder) OnComplete(res types.Result)        { r.events = append(r.events, CompleteEvent{res}) }
func (r *recorder) OnError(p types.ErrorPayload)       { r.events = append(r.events, ErrorEvent{p}) }

// chunkReader returns its chunks one per Read call
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func sampleStream(t *testing.T) []byte {
	t.Helper()
	var out []byte
	add := func(event string, payload any) {
		b, err := EncodeFrame(event, payload)
		require.NoError(t, err)
		out = append(out, b...)
	}
	add(EventStatus, types.StatusPayload{Message: "Starting scan", Phase: "init"})
	add(EventProgress, types.ProgressPayload{Percent: 20, Message: "Fetching page"})
	out = append(out, pingFrame...)
	add(EventFinding, types.Finding{ID: "f1", RuleID: "image-alt", Impact: types.ImpactCritical})
	out = append(out, "event:finding\ndata:{broken\n\n"...)
	add(EventProgress, types.ProgressPayload{Percent: 60})
	add(EventFinding, types.Finding{ID: "f2", RuleID: "link-name", Impact: types.ImpactSerious})
	add(EventComplete, types.Result{URL: "https://example.com", Score: 85, TotalIssues: 2})
	return out
}

func decodeChunks(t *testing.T, chunks [][]byte) []Event {
	t.Helper()
	rec := &recorder{}
	dec := NewDecoder(&chunkReader{chunks: chunks})
	dec.SetChunkSize(3)
	require.NoError(t, dec.Decode(context.Background(), rec))
	return rec.events
}

func TestDecodeSingleChunk(t *testing.T) {
	stream := sampleStream(t)
	rec := &recorder{}
	require.NoError(t, Decode(context.Background(), strings.NewReader(string(stream)), rec))

	require.Len(t, rec.events, 6)
	assert.Equal(t, EventStatus, rec.events[0].Name())
	assert.Equal(t, "f1", rec.events[2].(FindingEvent).Finding.ID)
	assert.Equal(t, "f2", rec.events[4].(FindingEvent).Finding.ID)
	assert.Equal(t, 85, rec.events[5].(CompleteEvent).Result.Score)
}

func TestDecodeChunkBoundaryIndependence(t *testing.T) {
	stream := sampleStream(t)
	want := decodeChunks(t, [][]byte{append([]byte(nil), stream...)})

	// Every two-way split, including mid-line and mid-delimiter
	for i := 1; i < len(stream); i++ {
		a := append([]byte(nil), stream[:i]...)
		b := append([]byte(nil), stream[i:]...)
		got := decodeChunks(t, [][]byte{a, b})
		require.Equal(t, want, got, "split at %d", i)
	}

	// Random N-way splits
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(16)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, append([]byte(nil), rest[:n]...))
			rest = rest[n:]
		}
		require.Equal(t, want, decodeChunks(t, chunks), "round %d", round)
	}
}

func TestDecodeContinuesAfterTerminalEvent(t *testing.T) {
	stream := "event:error\ndata:{\"message\":\"boom\"}\n\nevent:progress\ndata:{\"percent\":99}\n\n"
	rec := &recorder{}
	require.NoError(t, Decode(context.Background(), strings.NewReader(stream), rec))
	require.Len(t, rec.events, 2)
	assert.Equal(t, "boom", rec.events[0].(ErrorEvent).Payload.Message)
}

func TestDecodeDiscardsIncompleteTail(t *testing.T) {
	stream := "event:progress\ndata:{\"percent\":10}\n\nevent:progress\ndata:{\"percent\":20}"
	rec := &recorder{}
	require.NoError(t, Decode(context.Background(), strings.NewReader(stream), rec))
	require.Len(t, rec.events, 1)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestDecodeReadError(t *testing.T) {
	boom := errors.New("connection reset")
	err := Decode(context.Background(), failingReader{err: boom}, &recorder{})
	assert.ErrorIs(t, err, boom)
}

func TestDecodeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Decode(ctx, strings.NewReader("event:progress\ndata:{}\n\n"), &recorder{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeReadErrorAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- Decode(ctx, pr, &recorder{})
	}()

	cancel()
	pw.CloseWithError(errors.New("aborted"))

	assert.ErrorIs(t, <-done, context.Canceled)
}
