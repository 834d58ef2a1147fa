package upstream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"

	"cashout-mirror/src/helpers"
)

// -----------------------------------------------------------------------------
// SSE Stream Connection
// -----------------------------------------------------------------------------

// StreamConn is one open server-sent-events connection. The upstream frames
// every message as `data: <json>` followed by a blank line; comment lines
// (leading ':') are keepalives and yield empty payloads.
type StreamConn struct {
	resp   *http.Response
	reader *bufio.Reader
}

// -----------------------------------------------------------------------------

// DialStream opens the long-lived stream. No client timeout here: the
// connection is expected to stay open indefinitely, liveness is the
// caller's watchdog.
func DialStream(ctx context.Context, client *http.Client, url string, userAgent string) (*StreamConn, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, helpers.NewStreamError("stream dial failed", err)
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, helpers.NewStreamError(fmt.Sprintf("stream rejected with status %d", resp.StatusCode), nil)
	}

	return &StreamConn{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

// -----------------------------------------------------------------------------

// Next blocks until one complete SSE message is read and returns its data
// payload. A comment-only message (keepalive) returns an empty string.
// Any read error means the connection is gone.
func (s *StreamConn) Next() (string, error) {
	var data []string

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return "", helpers.NewStreamError("stream read failed", err)
		}

		line = strings.TrimRight(line, "\r\n")

		// Blank line terminates the message.
		if line == "" {
			return strings.Join(data, "\n"), nil
		}

		// Comment / keepalive frame.
		if strings.HasPrefix(line, ":") {
			continue
		}

		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
		// event:/id:/retry: fields are ignored; the upstream embeds the
		// event name inside the data payload itself.
	}
}

// -----------------------------------------------------------------------------

func (s *StreamConn) Close() {
	if s.resp != nil {
		s.resp.Body.Close()
	}
}
