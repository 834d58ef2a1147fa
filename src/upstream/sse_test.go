package upstream

import (
	"bufio"
	"strings"
	"testing"
)

func connFor(raw string) *StreamConn {
	return &StreamConn{reader: bufio.NewReader(strings.NewReader(raw))}
}

// TestStreamConnNext covers the SSE framing the upstream actually emits:
// data lines, comments, ignored field lines and multi-line payloads.
func TestStreamConnNext(t *testing.T) {
	t.Run("single data frame", func(t *testing.T) {
		conn := connFor("data: {\"event\":\"vela\"}\n\n")
		got, err := conn.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != `{"event":"vela"}` {
			t.Errorf("payload: got %q", got)
		}
	})

	t.Run("keepalive comment yields empty payload", func(t *testing.T) {
		conn := connFor(":keepalive\n\ndata: x\n\n")
		got, err := conn.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != "" {
			t.Errorf("expected empty keepalive, got %q", got)
		}

		got, err = conn.Next()
		if err != nil || got != "x" {
			t.Errorf("second frame: got %q, %v", got, err)
		}
	})

	t.Run("event and retry fields ignored", func(t *testing.T) {
		conn := connFor("event: message\nretry: 3000\ndata: payload\n\n")
		got, err := conn.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != "payload" {
			t.Errorf("payload: got %q", got)
		}
	})

	t.Run("multi-line data joined", func(t *testing.T) {
		conn := connFor("data: a\ndata: b\n\n")
		got, err := conn.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != "a\nb" {
			t.Errorf("payload: got %q", got)
		}
	})

	t.Run("crlf tolerated", func(t *testing.T) {
		conn := connFor("data: x\r\n\r\n")
		got, err := conn.Next()
		if err != nil || got != "x" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("eof surfaces as stream error", func(t *testing.T) {
		conn := connFor("data: truncated")
		if _, err := conn.Next(); err == nil {
			t.Fatal("expected error on EOF")
		}
	})
}
