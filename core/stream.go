package core

import (
	"context"
	"fmt"
)

// Chunk is one increment of a streamed agent output. Text fragments are
// concatenated onto the accumulator; JSON values replace whatever the
// accumulator holds under the same key. A chunk carrying Err terminates the
// stream and is always the last one.
type Chunk struct {
	Text map[string]string `json:"text,omitempty"`
	JSON Message           `json:"json"`
	Err  error             `json:"-"`
}

// TextChunk builds a chunk with a single text delta.
func TextChunk(key, delta string) Chunk {
	return Chunk{Text: map[string]string{key: delta}}
}

// JSONChunk builds a chunk with a single json delta.
func JSONChunk(key string, value any) Chunk {
	return Chunk{JSON: NewMessage(key, value)}
}

// ErrorChunk builds a terminal error chunk.
func ErrorChunk(err error) Chunk { return Chunk{Err: err} }

// IsEmpty reports whether the chunk carries neither deltas nor an error.
func (c Chunk) IsEmpty() bool { return len(c.Text) == 0 && c.JSON.Len() == 0 && c.Err == nil }

// Stream is a lazy, finite, non-restartable sequence of chunks. A closed
// channel means success; a chunk with Err means failure.
type Stream <-chan Chunk

// YieldFunc hands a chunk to the consumer. It returns the context error when
// the consumer went away.
type YieldFunc func(Chunk) error

// defaultStreamBuffer sizes stream channels created by this package.
const defaultStreamBuffer = 16

// Generate runs fn in its own goroutine and exposes what it yields as a
// Stream. A non-nil return from fn becomes the terminal error chunk. fn must
// stop producing once yield returns an error.
func Generate(ctx context.Context, fn func(ctx context.Context, yield YieldFunc) error) Stream {
	out := make(chan Chunk, defaultStreamBuffer)

	go func() {
		defer close(out)

		yield := func(c Chunk) error {
			if c.IsEmpty() {
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- c:
				return nil
			}
		}

		err := safeProduce(ctx, fn, yield)
		if err == nil {
			return
		}

		// The terminal error is delivered even if the consumer has gone away;
		// the buffer slot may be full, so fall back to a cancellable send.
		select {
		case out <- ErrorChunk(err):
		case <-ctx.Done():
			select {
			case out <- ErrorChunk(err):
			default:
			}
		}
	}()

	return out
}

func safeProduce(ctx context.Context, fn func(context.Context, YieldFunc) error, yield YieldFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream producer panicked: %v", r)
		}
	}()

	return fn(ctx, yield)
}

// ToStream synthesizes a single json chunk stream from a fully known message.
// It is the inverse of ToObject and normalizes non-streaming outputs.
func ToStream(m Message) Stream {
	out := make(chan Chunk, 1)

	if m.Len() > 0 {
		out <- Chunk{JSON: m.Clone()}
	}

	close(out)

	return out
}

// ErrorStream returns a stream holding a single error chunk.
func ErrorStream(err error) Stream {
	out := make(chan Chunk, 1)
	out <- ErrorChunk(err)
	close(out)

	return out
}

// Tap forwards every chunk of in while calling onChunk for each one and
// onDone once the input ended (err is the terminal error, if any). Chunks
// are forwarded after onChunk returns.
func Tap(ctx context.Context, in Stream, onChunk func(Chunk), onDone func(err error)) Stream {
	return Generate(ctx, func(ctx context.Context, yield YieldFunc) error {
		var terminal error

		defer func() {
			if onDone != nil {
				onDone(terminal)
			}
		}()

		for c := range in {
			if c.Err != nil {
				terminal = c.Err
				return c.Err
			}

			if onChunk != nil {
				onChunk(c)
			}

			if err := yield(c); err != nil {
				terminal = err
				go drain(in)

				return err
			}
		}

		// A producer cut short by cancellation may close without its error chunk.
		if err := ctx.Err(); err != nil {
			terminal = err
			return err
		}

		return nil
	})
}

// drain consumes the rest of a stream so its producer can exit.
func drain(s Stream) {
	for range s { //nolint:revive
	}
}
