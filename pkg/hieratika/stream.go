package hieratika

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const maxEventSize = 1024 * 1024

// Stream reads the server push event stream (text/event-stream).
type Stream struct {
	client     *Client
	httpClient *http.Client
	logger     *zap.Logger
}

// NewStream creates a stream reader that authenticates with client's token.
// The stream connection has no overall timeout; it lives until the
// subscription is closed, its context ends, or the server hangs up.
func NewStream(client *Client) *Stream {
	return &Stream{
		client:     client,
		httpClient: &http.Client{Transport: client.httpClient.Transport},
		logger:     client.logger.Named("stream"),
	}
}

// Subscribe opens the event stream. Connection failures and token rejection
// are reported here; once open, messages flow on the returned Subscription.
func (s *Stream) Subscribe(ctx context.Context) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	streamURL := s.client.baseURL + PathStream + "?token=" + url.QueryEscape(s.client.Token())
	req, err := http.NewRequestWithContext(subCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Path: PathStream, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &TransportError{Path: PathStream, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", http.StatusText(resp.StatusCode))}
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		// Rejections come back as a plain reply instead of a stream.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		cancel()
		reply := strings.TrimSpace(string(body))
		if reply == ReplyInvalidToken {
			s.client.fireInvalidToken()
			return nil, ErrInvalidToken
		}
		return nil, &TransportError{Path: PathStream, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected reply %q", reply)}
	}

	s.logger.Info("event stream open", zap.String("url", s.client.baseURL+PathStream))
	reader := newEventReader(resp.Body)

	cleanup := func() {
		resp.Body.Close()
		s.logger.Info("event stream closed")
	}
	next := func(ctx context.Context) ([]byte, bool) {
		data, err := reader.next()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.logger.Warn("event stream read failed", zap.Error(err))
			}
			return nil, false
		}
		return data, true
	}
	sub := startSubscription(subCtx, cancel, cleanup, next)
	return sub, nil
}

// eventReader splits a text/event-stream body into event data payloads.
// Events without data (keepalives) are skipped.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &eventReader{scanner: scanner}
}

// next returns the data of the next non-empty event, or io.EOF.
func (r *eventReader) next() ([]byte, error) {
	var data bytes.Buffer
	hasData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if hasData && data.Len() > 0 {
				return data.Bytes(), nil
			}
			data.Reset()
			hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field != "data" {
			continue
		}
		if hasData {
			data.WriteByte('\n')
		}
		data.WriteString(value)
		hasData = true
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	if hasData && data.Len() > 0 {
		return data.Bytes(), nil
	}
	return nil, io.EOF
}
