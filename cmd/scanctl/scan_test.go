package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyallcooper/scanstream/internal/types"
)

const completeFrame = "event:complete\ndata:{\"url\":\"https://example.com\",\"score\":88,\"totalIssues\":2," +
	"\"findings\":[{\"id\":\"f1\",\"ruleId\":\"image-alt\",\"impact\":\"serious\",\"selector\":\"img\",\"description\":\"Images must have alt text\"}," +
	"{\"id\":\"f2\",\"ruleId\":\"duplicate-id\",\"impact\":\"minor\"}]}\n\n"

// fakeServer answers POST /scan with raw frames and records the request
func fakeServer(t *testing.T, got *types.ScanRequest, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			w.Write([]byte(f))
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hangingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("event:progress\ndata:{\"percent\":20,\"message\":\"Fetching page\"}\n\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(ctx context.Context, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := execute(ctx, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestScanExitCodes(t *testing.T) {
	tests := []struct {
		name       string
		frames     []string
		args       []string
		wantCode   int
		wantStderr string
	}{
		{"complete", []string{completeFrame}, nil, exitOK, ""},
		{"fail-on hit", []string{completeFrame}, []string{"--fail-on", "serious"}, exitFailOn, ""},
		{"fail-on below threshold", []string{completeFrame}, []string{"--fail-on", "critical"}, exitOK, ""},
		{"error event", []string{"event:error\ndata:{\"message\":\"fetch failed: HTTP 503\"}\n\n"}, nil, exitError, "Error: fetch failed: HTTP 503"},
		{"stream ended early", []string{"event:progress\ndata:{\"percent\":50}\n\n"}, nil, exitError, "Stream ended before the scan completed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeServer(t, nil, tt.frames...)
			args := append([]string{"scan", "https://example.com", "--server", srv.URL}, tt.args...)

			code, _, stderr := run(context.Background(), args...)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantStderr != "" {
				assert.Contains(t, stderr, tt.wantStderr)
			}
		})
	}
}

func TestScanSendsOptions(t *testing.T) {
	var got types.ScanRequest
	srv := fakeServer(t, &got, completeFrame)

	code, _, _ := run(context.Background(), "scan", "https://example.com",
		"--server", srv.URL+"/",
		"--standard", "wcag21aa",
		"--viewport", "mobile",
		"--include-warnings",
		"--custom-rules",
		"--bearer", "tok",
		"-H", "X-Tenant=acme",
	)
	require.Equal(t, exitOK, code)

	assert.Equal(t, "https://example.com", got.URL)
	assert.Equal(t, "wcag21aa", got.Standard)
	assert.Equal(t, "mobile", got.Viewport)
	assert.True(t, got.IncludeWarnings)
	assert.True(t, got.IncludeCustomRules)
	require.NotNil(t, got.Auth)
	assert.Equal(t, "bearer", got.Auth.Type)
	assert.Equal(t, "tok", got.Auth.Token)
	assert.Equal(t, map[string]string{"X-Tenant": "acme"}, got.Auth.Headers)
}

func TestScanOutputFormats(t *testing.T) {
	srv := fakeServer(t, nil, "event:progress\ndata:{\"percent\":40,\"message\":\"Parsing document\"}\n\n", completeFrame)

	code, stdout, stderr := run(context.Background(), "scan", "https://example.com", "--server", srv.URL)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Score: 88/100")
	assert.Contains(t, stdout, "Issues: 2 (critical 0, serious 1, moderate 0, minor 1)")
	assert.Contains(t, stdout, "SERIOUS")
	assert.Contains(t, stdout, "image-alt")
	assert.Contains(t, stderr, "[ 40%] Parsing document")

	code, stdout, stderr = run(context.Background(), "scan", "https://example.com", "--server", srv.URL, "-o", "json")
	require.Equal(t, exitOK, code)
	var result types.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, 88, result.Score)
	assert.Len(t, result.Findings, 2)
	assert.NotContains(t, stderr, "Parsing document")
}

func TestScanRejectedByServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"URL is required"}`))
	}))
	defer srv.Close()

	code, _, stderr := run(context.Background(), "scan", " ", "--server", srv.URL)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "URL is required")
}

func TestScanInterrupted(t *testing.T) {
	srv := hangingServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	code, _, stderr := run(ctx, "scan", "https://example.com", "--server", srv.URL)
	assert.Equal(t, exitInterrupted, code)
	assert.Contains(t, stderr, "Scan cancelled")
}

func TestScanTimeout(t *testing.T) {
	srv := hangingServer(t)

	code, _, stderr := run(context.Background(), "scan", "https://example.com", "--server", srv.URL, "--timeout", "100ms")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "scan timed out after 100ms")
}

func TestScanInvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no url", []string{"scan"}, "accepts 1 arg"},
		{"bad output", []string{"scan", "https://example.com", "-o", "xml"}, "unknown output format"},
		{"bad fail-on", []string{"scan", "https://example.com", "--fail-on", "severe"}, "invalid --fail-on"},
		{"bad viewport", []string{"scan", "https://example.com", "--viewport", "tv"}, "invalid viewport"},
		{"both auth", []string{"scan", "https://example.com", "--bearer", "t", "--basic", "u:p"}, "mutually exclusive"},
		{"bad basic", []string{"scan", "https://example.com", "--basic", "user"}, "user:password"},
		{"bad header", []string{"scan", "https://example.com", "--server", "http://127.0.0.1:1", "-H", "novalue"}, "invalid header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(context.Background(), tt.args...)
			assert.Equal(t, exitError, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRequestBasicAuth(t *testing.T) {
	opts := scanOptions{basic: "user:p:ss", headers: []string{"Accept-Language: en"}}
	req, err := opts.request("https://example.com")
	require.NoError(t, err)
	require.NotNil(t, req.Auth)
	assert.Equal(t, "basic", req.Auth.Type)
	assert.Equal(t, "user", req.Auth.Username)
	assert.Equal(t, "p:ss", req.Auth.Password)
	assert.Equal(t, "en", req.Auth.Headers["Accept-Language"])

	req, err = (&scanOptions{}).request("https://example.com")
	require.NoError(t, err)
	assert.Nil(t, req.Auth)
}

func TestFailsThreshold(t *testing.T) {
	findings := []types.Finding{{Impact: types.ImpactModerate}, {Impact: types.ImpactMinor}}
	assert.True(t, failsThreshold(findings, types.ImpactMinor))
	assert.True(t, failsThreshold(findings, types.ImpactModerate))
	assert.False(t, failsThreshold(findings, types.ImpactSerious))
	assert.False(t, failsThreshold(nil, types.ImpactMinor))
}
