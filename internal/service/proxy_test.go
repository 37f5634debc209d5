package service

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"gloo-proxy/internal/config"
	"gloo-proxy/internal/model"
)

func newTestService(maxHeader, bufSize int) *ProxyService {
	cfg := &config.Config{
		Server: config.ServerConfig{MaxHeaderBytes: maxHeader, BufferSize: bufSize},
	}
	return NewProxyService(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReadRequest_WithPayload(t *testing.T) {
	s := newTestService(0, 4)
	raw := "POST http://example.com/submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"

	req, err := s.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if req.Head.Method != "POST" {
		t.Errorf("Method = %q, want POST", req.Head.Method)
	}
	if !req.Head.HasContentLength || req.Head.ContentLength != 5 {
		t.Errorf("ContentLength = %d (has=%v), want 5", req.Head.ContentLength, req.Head.HasContentLength)
	}
	if string(req.Payload) != "hello" {
		t.Errorf("Payload = %q, want %q", req.Payload, "hello")
	}
}

func TestReadRequest_PayloadOvershootKept(t *testing.T) {
	// A 4-byte chunk read after 3 declared bytes picks up the next byte too.
	s := newTestService(0, 4)
	raw := "POST http://example.com/ HTTP/1.1\r\nContent-Length: 3\r\n\r\nabcdefgh"

	req, err := s.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if !strings.HasPrefix(string(req.Payload), "abc") {
		t.Errorf("Payload = %q, want prefix %q", req.Payload, "abc")
	}
	if len(req.Payload) < 3 {
		t.Errorf("len(Payload) = %d, want >= 3", len(req.Payload))
	}
}

func TestReadRequest_NoPayloadWithoutContentLength(t *testing.T) {
	s := newTestService(0, 4096)
	raw := "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\ntrailing"

	req, err := s.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if req.Payload != nil {
		t.Errorf("Payload = %q, want nil", req.Payload)
	}
}

func TestReadRequest_TruncatedPayload(t *testing.T) {
	s := newTestService(0, 4096)
	raw := "POST http://example.com/ HTTP/1.1\r\nContent-Length: 10\r\n\r\nshort"

	_, err := s.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("ReadRequest() error = %v, want io.ErrUnexpectedEOF", err)
	}
	if errors.Is(err, ErrProtocol) {
		t.Error("truncated payload should not be classified as a protocol error")
	}
}

func TestReadHead_Fields(t *testing.T) {
	raw := "GET http://example.com/a?b=c HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"X-Odd-Case: keep: colons\r\n" +
		"proxy-connection: keep-alive\r\n" +
		"\r\n"

	head, err := ReadHead(bufio.NewReader(strings.NewReader(raw)), 0)
	if err != nil {
		t.Fatalf("ReadHead() error = %v", err)
	}

	if head.Method != "GET" || head.Target != "http://example.com/a?b=c" || head.Version != "HTTP/1.1" {
		t.Errorf("request line = %q %q %q", head.Method, head.Target, head.Version)
	}

	want := []model.HeaderField{
		{Name: "Host", Value: "example.com"},
		{Name: "X-Odd-Case", Value: "keep: colons"},
		{Name: "proxy-connection", Value: "keep-alive"},
	}
	if len(head.Fields) != len(want) {
		t.Fatalf("len(Fields) = %d, want %d", len(head.Fields), len(want))
	}
	for i := range want {
		if head.Fields[i] != want[i] {
			t.Errorf("Fields[%d] = %+v, want %+v", i, head.Fields[i], want[i])
		}
	}
	if head.HasContentLength {
		t.Error("HasContentLength = true, want false")
	}
}

func TestReadHead_LeavesBodyBuffered(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("CONNECT example.com:443 HTTP/1.1\r\n\r\n\x16\x03\x01"))

	if _, err := ReadHead(r, 0); err != nil {
		t.Fatalf("ReadHead() error = %v", err)
	}
	rest, _ := io.ReadAll(r)
	if string(rest) != "\x16\x03\x01" {
		t.Errorf("remaining bytes = %q, want TLS record prefix", rest)
	}
}

func TestReadHead_Errors(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		maxBytes int
		wantErr  error
	}{
		{"eof before blank line", "GET http://example.com/ HTTP/1.1\r\nHost: x\r\n", 0, ErrNoRequest},
		{"empty stream", "", 0, ErrNoRequest},
		{"partial line", "GET", 0, ErrNoRequest},
		{"too few tokens", "GET\r\n\r\n", 0, ErrProtocol},
		{"two tokens", "GET /\r\n\r\n", 0, ErrProtocol},
		{"too many tokens", "GET / HTTP/1.1 extra\r\n\r\n", 0, ErrProtocol},
		{"blank head", "\r\n", 0, ErrProtocol},
		{"missing separator", "GET / HTTP/1.1\r\nHost:example.com\r\n\r\n", 0, ErrProtocol},
		{"bad content length", "POST / HTTP/1.1\r\nContent-Length: abc\r\n\r\n", 0, ErrProtocol},
		{"negative content length", "POST / HTTP/1.1\r\ncontent-length: -1\r\n\r\n", 0, ErrProtocol},
		{"signed content length", "POST / HTTP/1.1\r\nContent-Length: +5\r\n\r\n", 0, ErrProtocol},
		{"empty content length", "POST / HTTP/1.1\r\nContent-Length: \r\n\r\n", 0, ErrProtocol},
		{"header block too large", "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 100) + "\r\n\r\n", 64, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHead(bufio.NewReader(strings.NewReader(tt.raw)), tt.maxBytes)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadHead() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadHead_LongLineWithinBound(t *testing.T) {
	// Longer than bufio's default 4096-byte buffer, but inside the bound.
	value := strings.Repeat("v", 6000)
	raw := "GET http://example.com/ HTTP/1.1\r\nX-Long: " + value + "\r\n\r\n"

	head, err := ReadHead(bufio.NewReader(strings.NewReader(raw)), 16*1024)
	if err != nil {
		t.Fatalf("ReadHead() error = %v", err)
	}
	if got, _ := head.Lookup("x-long"); got != value {
		t.Errorf("X-Long length = %d, want %d", len(got), len(value))
	}
}

func TestReadHead_ContentLengthCaseInsensitive(t *testing.T) {
	raw := "POST http://example.com/ HTTP/1.1\r\nCONTENT-LENGTH: 12\r\n\r\n"

	head, err := ReadHead(bufio.NewReader(strings.NewReader(raw)), 0)
	if err != nil {
		t.Fatalf("ReadHead() error = %v", err)
	}
	if !head.HasContentLength || head.ContentLength != 12 {
		t.Errorf("ContentLength = %d (has=%v), want 12", head.ContentLength, head.HasContentLength)
	}
}

func TestReadPayload_ZeroLength(t *testing.T) {
	payload, err := ReadPayload(strings.NewReader("ignored"), 0, 16)
	if err != nil {
		t.Fatalf("ReadPayload() error = %v", err)
	}
	if payload != nil {
		t.Errorf("payload = %q, want nil", payload)
	}
}

func TestResolve(t *testing.T) {
	s := newTestService(0, 4096)

	tests := []struct {
		name    string
		head    *model.RequestHead
		want    model.Target
		wantErr bool
	}{
		{
			name: "connect host:port",
			head: &model.RequestHead{Method: "CONNECT", Target: "example.com:443"},
			want: model.Target{Host: "example.com", Port: 443},
		},
		{
			name: "forward default port",
			head: &model.RequestHead{Method: "GET", Target: "http://example.com/index.html"},
			want: model.Target{Host: "example.com", Port: 80, RequestURI: "/index.html"},
		},
		{
			name: "forward explicit port keeps query",
			head: &model.RequestHead{Method: "GET", Target: "http://example.com:8080/search?q=go"},
			want: model.Target{Host: "example.com", Port: 8080, RequestURI: "/search?q=go"},
		},
		{
			name: "forward empty path",
			head: &model.RequestHead{Method: "GET", Target: "http://example.com"},
			want: model.Target{Host: "example.com", Port: 80, RequestURI: "/"},
		},
		{
			name: "forward path bytes passed through unescaped",
			head: &model.RequestHead{Method: "GET", Target: "http://example.com/a|b/caf\u00e9/100%zz?q=%7C"},
			want: model.Target{Host: "example.com", Port: 80, RequestURI: "/a|b/caf\u00e9/100%zz?q=%7C"},
		},
		{
			name: "forward query without path",
			head: &model.RequestHead{Method: "GET", Target: "http://example.com:8080?q=1"},
			want: model.Target{Host: "example.com", Port: 8080, RequestURI: "/?q=1"},
		},
		{
			name: "forward fragment dropped",
			head: &model.RequestHead{Method: "GET", Target: "http://example.com/page#top"},
			want: model.Target{Host: "example.com", Port: 80, RequestURI: "/page"},
		},
		{
			name: "forward ipv6 literal",
			head: &model.RequestHead{Method: "GET", Target: "http://[::1]:8080/x"},
			want: model.Target{Host: "::1", Port: 8080, RequestURI: "/x"},
		},
		{
			name:    "forward origin-form target has no host",
			head:    &model.RequestHead{Method: "GET", Target: "/index.html"},
			wantErr: true,
		},
		{
			name:    "forward bad port",
			head:    &model.RequestHead{Method: "GET", Target: "http://example.com:99999/"},
			wantErr: true,
		},
		{
			name:    "connect missing port",
			head:    &model.RequestHead{Method: "CONNECT", Target: "example.com"},
			wantErr: true,
		},
		{
			name:    "connect two colons",
			head:    &model.RequestHead{Method: "CONNECT", Target: "example.com:443:1"},
			wantErr: true,
		},
		{
			name:    "connect non-numeric port",
			head:    &model.RequestHead{Method: "CONNECT", Target: "example.com:https"},
			wantErr: true,
		},
		{
			name:    "connect zero port",
			head:    &model.RequestHead{Method: "CONNECT", Target: "example.com:0"},
			wantErr: true,
		},
		{
			name:    "connect empty host",
			head:    &model.RequestHead{Method: "CONNECT", Target: ":443"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Resolve(tt.head)
			if tt.wantErr {
				if !errors.Is(err, ErrProtocol) {
					t.Fatalf("Resolve() error = %v, want ErrProtocol", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRewriteHead_UsesOriginForm(t *testing.T) {
	s := newTestService(0, 4096)
	head := &model.RequestHead{
		Method:  "GET",
		Target:  "http://example.com/a?b=c",
		Version: "HTTP/1.0",
		Fields:  []model.HeaderField{{Name: "Host", Value: "example.com"}},
	}

	got := string(s.RewriteHead(head, model.Target{Host: "example.com", Port: 80, RequestURI: "/a?b=c"}))
	want := "GET /a?b=c HTTP/1.0\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	if got != want {
		t.Errorf("RewriteHead() = %q, want %q", got, want)
	}
}
