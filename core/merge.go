package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Merge applies one chunk to the accumulator. Text deltas are concatenated
// onto existing string values (or set when the key is absent); merging text
// onto a non-string value fails with a MergeTypeError. JSON deltas are
// assigned verbatim after the text deltas of the same chunk, so they win over
// accumulated text.
func Merge(acc *Message, c Chunk) error {
	if c.Err != nil {
		return c.Err
	}

	keys := make([]string, 0, len(c.Text))
	for key := range c.Text {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		delta := c.Text[key]

		existing, ok := acc.Get(key)
		if !ok || existing == nil {
			acc.Set(key, delta)
			continue
		}

		s, isString := existing.(string)
		if !isString {
			return &StreamError{Err: &MergeTypeError{Field: key, Have: fmt.Sprintf("%T", existing)}}
		}

		acc.Set(key, s+delta)
	}

	acc.Merge(c.JSON)

	return nil
}

// ToObject drains a stream, merging every chunk into a fresh accumulator.
// The first error chunk aborts consumption; errors outside the taxonomy are
// wrapped in a StreamError.
func ToObject(ctx context.Context, s Stream) (Message, error) {
	acc := NewMessage()

	if err := MergeInto(ctx, &acc, s); err != nil {
		return Message{}, err
	}

	return acc, nil
}

// MergeInto drains s into an existing accumulator.
func MergeInto(ctx context.Context, acc *Message, s Stream) error {
	for {
		select {
		case <-ctx.Done():
			go drain(s)
			return ctx.Err()
		case c, ok := <-s:
			if !ok {
				return ctx.Err()
			}

			if c.Err != nil {
				go drain(s)
				return asStreamError(c.Err)
			}

			if err := Merge(acc, c); err != nil {
				go drain(s)
				return err
			}
		}
	}
}

func asStreamError(err error) error {
	if isTaxonomyError(err) || err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}

	return &StreamError{Err: err}
}

// MergeStreams interleaves several streams into one, emitting chunks in the
// order they become available. An error in any source is emitted after the
// chunks already received and ends the merged stream; the remaining sources
// are drained in the background.
func MergeStreams(ctx context.Context, streams ...Stream) Stream {
	return Generate(ctx, func(ctx context.Context, yield YieldFunc) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		funnel := make(chan Chunk)

		var wg sync.WaitGroup

		for _, s := range streams {
			wg.Add(1)

			go func(s Stream) {
				defer wg.Done()

				for c := range s {
					select {
					case funnel <- c:
					case <-ctx.Done():
						go drain(s)
						return
					}

					if c.Err != nil {
						return
					}
				}
			}(s)
		}

		go func() {
			wg.Wait()
			close(funnel)
		}()

		for c := range funnel {
			if c.Err != nil {
				cancel()
				go drainChunks(funnel)

				return c.Err
			}

			if err := yield(c); err != nil {
				cancel()
				go drainChunks(funnel)

				return err
			}
		}

		return nil
	})
}

func drainChunks(ch <-chan Chunk) {
	for range ch { //nolint:revive
	}
}
