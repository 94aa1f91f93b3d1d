package stream

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// Source yields the chunks of one assistant response in order. Next blocks
// until a chunk arrives and returns io.EOF when the response is complete.
type Source interface {
	Next(ctx context.Context) (Chunk, error)
}

// SliceSource replays a fixed chunk sequence, used by tests and the replay
// command.
type SliceSource struct {
	chunks []Chunk
	pos    int
}

func NewSliceSource(chunks ...Chunk) *SliceSource {
	return &SliceSource{chunks: chunks}
}

// NewSliceSourceFromJSONL parses one JSON event per line. Blank lines are
// skipped; a malformed line fails the whole parse since a recorded fixture
// is expected to be well-formed.
func NewSliceSourceFromJSONL(r io.Reader) (*SliceSource, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var chunks []Chunk
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		c, err := NewChunkFromJSON([]byte(text))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewSliceSource(chunks...), nil
}

func (s *SliceSource) Next(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

var _ Source = (*SliceSource)(nil)

// SubscriberSource consumes chunks from a watermill subscription. The
// response is complete when the producer closes the topic or publishes a
// message with the end-of-response marker metadata.
type SubscriberSource struct {
	ch <-chan *message.Message
}

// EndOfResponseMetadataKey marks the last message of a response on the
// wire.
const EndOfResponseMetadataKey = "marionette_end_of_response"

func NewSubscriberSource(ctx context.Context, subscriber message.Subscriber, topic string) (*SubscriberSource, error) {
	ch, err := subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to subscribe to %s", topic)
	}
	return &SubscriberSource{ch: ch}, nil
}

func (s *SubscriberSource) Next(ctx context.Context) (Chunk, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		msg.Ack()
		if msg.Metadata.Get(EndOfResponseMetadataKey) != "" {
			return nil, io.EOF
		}
		c, err := NewChunkFromJSON(msg.Payload)
		if err != nil {
			// hand the raw bytes back so the decoder can poison the
			// right part instead of aborting the response
			return &malformedChunk{raw: msg.Payload, cause: err}, nil
		}
		return c, nil
	}
}

var _ Source = (*SubscriberSource)(nil)

// malformedChunk wraps bytes that failed to decode so they can travel
// through the Source interface to the decoder's isolation logic.
type malformedChunk struct {
	raw   []byte
	cause error
}

func (c *malformedChunk) Type() ChunkType { return "malformed" }

func (c *malformedChunk) ToolCallID() string { return "" }

func (c *malformedChunk) Payload() []byte { return c.raw }

// Drain feeds every chunk of a source into a decoder until EOF or context
// cancellation. Cancellation is not an error: partially decoded parts stay
// in their last state.
func Drain(ctx context.Context, src Source, dec *Decoder) error {
	for {
		c, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			dec.Finish()
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			return err
		}
		if mc, ok := c.(*malformedChunk); ok {
			dec.FeedJSON(mc.raw)
			continue
		}
		dec.Feed(c)
	}
}
