package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/domain"
)

type chunkLog struct {
	chunks []domain.Chunk
}

func (c *chunkLog) collect(ch domain.Chunk) error {
	c.chunks = append(c.chunks, ch)
	return nil
}

func (c *chunkLog) texts() []string {
	out := make([]string, len(c.chunks))
	for i, ch := range c.chunks {
		out[i] = ch.Text
	}
	return out
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	a := &fakeBackend{id: "a", streamChunks: []string{"Hel", "lo ", "world"}}
	d := newTestDispatcher(t, Deps{}, a)

	var log chunkLog
	res, err := d.Stream(context.Background(), domain.GenerationRequest{AgentName: "writer", Prompt: "hi"}, log.collect)
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo ", "world"}, log.texts())
	assert.Equal(t, "Hello world", res.Text)
	assert.Equal(t, "a", res.BackendUsed)
	for _, ch := range log.chunks {
		assert.Equal(t, "a", ch.Backend)
	}
	require.Len(t, a.payloads, 1)
	assert.True(t, a.payloads[0].Stream)
}

func TestStreamFailureBeforeFirstChunkFailsOver(t *testing.T) {
	a := &fakeBackend{id: "a", streamErr: errRefused}
	b := &fakeBackend{id: "b", streamChunks: []string{"ok"}}
	d := newTestDispatcher(t, Deps{}, a, b)

	var log chunkLog
	res, err := d.Stream(context.Background(), domain.GenerationRequest{AgentName: "writer", Prompt: "hi"}, log.collect)
	require.NoError(t, err)
	assert.Equal(t, "b", res.BackendUsed)
	assert.Equal(t, []string{"ok"}, log.texts())
	assert.Len(t, res.Attempts, 2)
}

func TestStreamInterruptedAfterPartialOutput(t *testing.T) {
	a := &fakeBackend{id: "a", streamChunks: []string{"one ", "two "}, streamErr: domain.ErrMalformedResponse}
	b := &fakeBackend{id: "b", streamChunks: []string{"never"}}
	fb := &fakeFallback{text: "never"}
	usage := &recordingUsage{}
	d := newTestDispatcher(t, Deps{Fallback: fb, Usage: usage}, a, b)

	var log chunkLog
	res, err := d.Stream(context.Background(), domain.GenerationRequest{AgentName: "writer", Prompt: "hi"}, log.collect)

	var ie *StreamInterruptedError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, domain.ErrStreamInterrupted)
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
	assert.Equal(t, "a", ie.Backend)
	assert.Equal(t, 2, ie.Chunks)

	require.NotNil(t, res)
	assert.Equal(t, "one two ", res.Text)
	assert.Equal(t, []string{"one ", "two "}, log.texts(), "delivered chunks are never re-sent")
	assert.Zero(t, b.Calls(), "no retry after partial output")
	assert.Zero(t, fb.calls, "no fallback after partial output")

	require.Len(t, usage.events, 1)
	assert.True(t, usage.events[0].Failed)
	assert.Equal(t, "a", usage.events[0].Backend)
}

func TestStreamConsumerAbort(t *testing.T) {
	a := &fakeBackend{id: "a", streamChunks: []string{"one", "two", "three"}}
	b := &fakeBackend{id: "b", streamChunks: []string{"never"}}
	d := newTestDispatcher(t, Deps{}, a, b)

	errGone := errors.New("client went away")
	seen := 0
	_, err := d.Stream(context.Background(), domain.GenerationRequest{AgentName: "writer", Prompt: "hi"},
		func(domain.Chunk) error {
			seen++
			if seen == 2 {
				return errGone
			}
			return nil
		})

	assert.ErrorIs(t, err, errGone)
	assert.NotErrorIs(t, err, domain.ErrStreamInterrupted)
	assert.Equal(t, 2, seen)
	assert.Zero(t, b.Calls(), "consumer abort stops the dispatch")
}

func TestStreamFallbackWordChunks(t *testing.T) {
	a := &fakeBackend{id: "a", streamErr: errRefused}
	fb := &fakeFallback{text: "the quick brown fox jumps over the lazy dog again"}
	d := newTestDispatcher(t, Deps{Fallback: fb}, a)

	var log chunkLog
	res, err := d.Stream(context.Background(), domain.GenerationRequest{AgentName: "writer", Prompt: "hi"}, log.collect)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"the quick brown ",
		"fox jumps over ",
		"the lazy dog ",
		"again ",
	}, log.texts())
	assert.True(t, res.UsedFallback)
	assert.Equal(t, "fallback:openai", res.BackendUsed)
	assert.Equal(t, "the quick brown fox jumps over the lazy dog again ", res.Text)
	for _, ch := range log.chunks {
		assert.Equal(t, "fallback:openai", ch.Backend)
	}
}

func TestStreamNativeFallback(t *testing.T) {
	a := &fakeBackend{id: "a", streamErr: errRefused}
	fb := &fakeStreamingFallback{chunks: []string{"str", "eamed"}}
	d := newTestDispatcher(t, Deps{Fallback: fb}, a)

	var log chunkLog
	res, err := d.Stream(context.Background(), domain.GenerationRequest{AgentName: "writer", Prompt: "hi"}, log.collect)
	require.NoError(t, err)
	assert.Equal(t, []string{"str", "eamed"}, log.texts())
	assert.Equal(t, "streamed", res.Text)
	assert.Equal(t, 1, fb.calls)
}

func TestStreamFallbackFailure(t *testing.T) {
	a := &fakeBackend{id: "a", streamErr: errRefused}
	fb := &fakeFallback{err: errors.New("401")}
	d := newTestDispatcher(t, Deps{Fallback: fb}, a)

	var log chunkLog
	res, err := d.Stream(context.Background(), domain.GenerationRequest{AgentName: "writer", Prompt: "hi"}, log.collect)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrFallbackFailed)
	assert.ErrorIs(t, err, domain.ErrAllCandidatesExhausted)
	assert.Empty(t, log.chunks)
}

func TestStreamRejectsBadInput(t *testing.T) {
	a := &fakeBackend{id: "a"}
	d := newTestDispatcher(t, Deps{}, a)

	_, err := d.Stream(context.Background(), domain.GenerationRequest{AgentName: "writer"}, func(domain.Chunk) error { return nil })
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = d.Stream(context.Background(), domain.GenerationRequest{AgentName: "writer", Prompt: "hi"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, a.Calls())
}

func TestWordChunks(t *testing.T) {
	assert.Empty(t, wordChunks("", 3))
	assert.Equal(t, []string{"a b c ", "d "}, wordChunks("a  b\nc d", 3))
	assert.Equal(t, []string{"one "}, wordChunks("one", 3))
}
