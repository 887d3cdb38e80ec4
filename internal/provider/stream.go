package provider

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/omnidotdev/synapse/internal/config"
	anthropicconv "github.com/omnidotdev/synapse/internal/convert/anthropic"
	googleconv "github.com/omnidotdev/synapse/internal/convert/google"
	openaiconv "github.com/omnidotdev/synapse/internal/convert/openai"
	"github.com/omnidotdev/synapse/internal/llm"
)

// chunkParser is the per-protocol piece of a Stream: it turns one SSE
// data payload into canonical events.
type chunkParser interface {
	Parse(ctx context.Context, data []byte) ([]llm.StreamEvent, error)
}

// Stream is a lazy, finite sequence of canonical events read from an
// upstream body. It is not restartable. Close drops the body, which
// cancels the upstream read.
type Stream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	parser   chunkParser
	protocol config.Protocol

	pending []llm.StreamEvent
	done    bool
	err     error
}

func newStream(body io.ReadCloser, protocol config.Protocol) *Stream {
	scanner := bufio.NewScanner(body)
	// Allow large SSE lines; tool arguments can be sizable.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var parser chunkParser
	switch protocol {
	case config.ProtocolAnthropic:
		parser = &anthropicconv.StreamParser{}
	case config.ProtocolGoogle:
		parser = &googleconv.StreamParser{}
	default:
		parser = &openaiconv.StreamParser{}
	}

	return &Stream{
		body:     body,
		scanner:  scanner,
		parser:   parser,
		protocol: protocol,
	}
}

// Next returns the next event. ok is false once the stream is
// exhausted; check Err afterwards. Events for a request are strictly
// ordered and never buffered beyond the line being decoded.
func (s *Stream) Next(ctx context.Context) (llm.StreamEvent, bool) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			if ev.Done {
				s.done = true
			}
			return ev, true
		}
		if s.done {
			return llm.StreamEvent{}, false
		}
		if ctx.Err() != nil {
			s.err = ctx.Err()
			return llm.StreamEvent{}, false
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				s.err = err
				return llm.StreamEvent{}, false
			}
			// Upstream EOF: protocols without an explicit terminal
			// event end here.
			s.pending = append(s.pending, s.tail()...)
			s.done = len(s.pending) == 0
			if s.done {
				return llm.StreamEvent{}, false
			}
			continue
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		if data == "[DONE]" {
			s.pending = append(s.pending, s.tail()...)
			continue
		}

		events, err := s.parser.Parse(ctx, []byte(data))
		if err != nil {
			s.err = err
			return llm.StreamEvent{}, false
		}
		s.pending = append(s.pending, events...)
	}
}

// tail returns the trailing events owed at end of upstream input,
// ensuring exactly one Done per stream.
func (s *Stream) tail() []llm.StreamEvent {
	switch p := s.parser.(type) {
	case *googleconv.StreamParser:
		return p.Finish()
	case *anthropicconv.StreamParser:
		// message_stop already produced Done; a truncated stream gets
		// one here.
		return []llm.StreamEvent{llm.DoneEvent()}
	default:
		return []llm.StreamEvent{llm.DoneEvent()}
	}
}

// Err reports a mid-stream failure after Next returns false.
func (s *Stream) Err() error { return s.err }

// Close releases the upstream body.
func (s *Stream) Close() error { return s.body.Close() }
