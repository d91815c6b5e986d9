package httpkit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

// echoHeader returns a server that writes back the named request header.
func echoHeader(t *testing.T, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get(name)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, c *http.Client, req *http.Request) string {
	t.Helper()
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestNewClient_Timeouts(t *testing.T) {
	if c := NewClient(); c.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", c.Timeout)
	}
	if c := NewClient(WithTimeout(5 * time.Second)); c.Timeout != 5*time.Second {
		t.Errorf("custom timeout = %v, want 5s", c.Timeout)
	}
	if c := NewClient(WithTimeout(0)); c.Timeout != 0 {
		t.Errorf("zero timeout = %v, want 0", c.Timeout)
	}
}

func TestNewClient_DefaultUserAgent(t *testing.T) {
	srv := echoHeader(t, "User-Agent")
	req, _ := http.NewRequest("GET", srv.URL, nil)

	got := get(t, NewClient(), req)
	if !strings.HasPrefix(got, "opbridge/") {
		t.Errorf("User-Agent = %q, want opbridge/ prefix", got)
	}
}

func TestNewClient_UserAgentOverride(t *testing.T) {
	srv := echoHeader(t, "User-Agent")
	req, _ := http.NewRequest("GET", srv.URL, nil)

	if got := get(t, NewClient(WithUserAgent("TestBot/1.0")), req); got != "TestBot/1.0" {
		t.Errorf("User-Agent = %q, want TestBot/1.0", got)
	}
}

func TestNewClient_ExistingUserAgentNotOverwritten(t *testing.T) {
	srv := echoHeader(t, "User-Agent")
	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("User-Agent", "CustomBot/2.0")

	if got := get(t, NewClient(), req); got != "CustomBot/2.0" {
		t.Errorf("User-Agent = %q, want CustomBot/2.0", got)
	}
}

func TestNewClient_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, "%s:%s", user, pass)
	}))
	defer srv.Close()

	c := NewClient(WithBasicAuth("apikey", "secret"))
	req, _ := http.NewRequest("GET", srv.URL, nil)
	if got := get(t, c, req); got != "apikey:secret" {
		t.Errorf("credentials = %q, want apikey:secret", got)
	}
}

func TestNewClient_BasicAuthDoesNotReplaceExplicitAuthorization(t *testing.T) {
	srv := echoHeader(t, "Authorization")
	c := NewClient(WithBasicAuth("apikey", "secret"))
	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("Authorization", "Bearer abc")

	if got := get(t, c, req); got != "Bearer abc" {
		t.Errorf("Authorization = %q, want Bearer abc", got)
	}
}

func TestNewClient_WithHeader(t *testing.T) {
	srv := echoHeader(t, "X-API-Key")

	c := NewClient(WithHeader("X-API-Key", "k-123"))
	req, _ := http.NewRequest("GET", srv.URL, nil)
	if got := get(t, c, req); got != "k-123" {
		t.Errorf("X-API-Key = %q, want k-123", got)
	}

	// Empty values are ignored entirely.
	c = NewClient(WithHeader("X-API-Key", ""))
	req, _ = http.NewRequest("GET", srv.URL, nil)
	if got := get(t, c, req); got != "" {
		t.Errorf("X-API-Key = %q, want empty", got)
	}
}

func TestNewTransport_HasTimeouts(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout: got %v, want %v", tr.TLSHandshakeTimeout, DefaultTLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout: got %v, want %v", tr.ResponseHeaderTimeout, DefaultResponseHeader)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost: got %d, want %d", tr.MaxIdleConnsPerHost, DefaultMaxIdleConnsPerHost)
	}
}

func TestReadErrorBody(t *testing.T) {
	tests := []struct {
		name  string
		rc    io.ReadCloser
		limit int64
		want  string
	}{
		{"full", io.NopCloser(strings.NewReader("error details here")), 512, "error details here"},
		{"truncated", io.NopCloser(strings.NewReader(strings.Repeat("x", 1000))), 10, strings.Repeat("x", 10)},
		{"nil", nil, 512, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReadErrorBody(tt.rc, tt.limit); got != tt.want {
				t.Errorf("ReadErrorBody = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadErrorBody_Error(t *testing.T) {
	got := ReadErrorBody(io.NopCloser(&failReader{}), 512)
	if !strings.Contains(got, "failed to read") {
		t.Errorf("expected failure message, got %q", got)
	}
}

type failReader struct{}

func (f *failReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("simulated read error")
}

// --- Retry transport ---

// failingRoundTripper fails with EHOSTUNREACH the first n calls.
type failingRoundTripper struct {
	failures int
	calls    int
}

func (f *failingRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.OpError{
			Op:  "dial",
			Net: "tcp",
			Err: &net.OpError{Op: "connect", Err: syscall.EHOSTUNREACH},
		}
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader("ok")),
	}, nil
}

func TestRetryTransport(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		count     int
		wantErr   bool
		wantCalls int
	}{
		{"succeeds after one failure", 1, 2, false, 2},
		{"no retry on success", 0, 2, false, 1},
		{"exhausts retries", 10, 2, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &failingRoundTripper{failures: tt.failures}
			rt := &retryTransport{base: ft, count: tt.count, delay: 5 * time.Millisecond}

			req, _ := http.NewRequest("GET", "http://example.com", nil)
			_, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if ft.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", ft.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransport_RespectsContextCancellation(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	rt := &retryTransport{base: ft, count: 5, delay: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", "http://example.com", nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected context cancellation error")
	}
	if ft.calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", ft.calls)
	}
}

func TestRetryTransport_NoRetryWithoutGetBody(t *testing.T) {
	ft := &failingRoundTripper{failures: 1}
	rt := &retryTransport{base: ft, count: 2, delay: 5 * time.Millisecond}

	req, _ := http.NewRequest("PATCH", "http://example.com", strings.NewReader(`{"lockVersion":3}`))
	req.GetBody = nil

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error (should not retry without GetBody)")
	}
	if ft.calls != 1 {
		t.Fatalf("expected 1 call, got %d", ft.calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"generic", fmt.Errorf("oops"), false},
		{"EHOSTUNREACH", syscall.EHOSTUNREACH, true},
		{"ENETUNREACH", syscall.ENETUNREACH, true},
		{"ECONNREFUSED", syscall.ECONNREFUSED, true},
		{"ECONNRESET", syscall.ECONNRESET, false},
		{"wrapped", fmt.Errorf("connect: %w", syscall.ECONNREFUSED), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
