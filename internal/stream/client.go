package stream

import (
	"bufio"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lxyhes/iflow-engine/internal/logging"
	"github.com/lxyhes/iflow-engine/pkg/types"
)

// Stream is a single-pass sequence of decoded events read from one turn's
// response body. It is not restartable; a new turn opens a new Stream.
type Stream struct {
	reader    *bufio.Reader
	body      io.Closer
	cancel    func()
	cancelled atomic.Bool
	eof       bool
	log       zerolog.Logger
}

// New wraps a response body in a Stream. cancel aborts the underlying
// transport; it may be nil when the body has no independent lifetime.
func New(body io.ReadCloser, cancel func()) *Stream {
	return &Stream{
		reader: bufio.NewReader(body),
		body:   body,
		cancel: cancel,
		log:    logging.Component("stream"),
	}
}

// Recv returns the next decoded event, or io.EOF when the stream ends.
// Partial frames are buffered until a newline boundary arrives, so a
// frame split across network chunks yields exactly one event. Malformed
// frames are logged and dropped; the stream continues.
func (s *Stream) Recv() (types.StreamEvent, error) {
	for {
		if s.eof || s.cancelled.Load() {
			return nil, io.EOF
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if s.cancelled.Load() {
				// Cancelled reads unblock and end the sequence quietly.
				return nil, io.EOF
			}
			if err == io.EOF {
				s.eof = true
				// A final frame without a trailing newline still counts.
				if ev, status := DecodeFrame(line); status == DecodeOK {
					return ev, nil
				}
				return nil, io.EOF
			}
			return nil, err
		}

		ev, status := DecodeFrame(line)
		switch status {
		case DecodeOK:
			return ev, nil
		case DecodeMalformed:
			s.log.Warn().Str("frame", truncate(line, 200)).Msg("dropping malformed frame")
		}
		// DecodeSkip and DecodeMalformed both continue the loop.
	}
}

// Cancel aborts the underlying connection. Any in-flight Recv unblocks
// and the sequence ends without emitting further events. Transcript
// cleanup (closing the open record) is the caller's responsibility.
func (s *Stream) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.body != nil {
		_ = s.body.Close()
	}
}

// Close releases the response body after a normal drain.
func (s *Stream) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
