package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"modelgate/internal/domain"
	"modelgate/internal/infra/tracer"
)

// fallbackChunkWords is the chunk size used when a fallback provider cannot
// stream natively.
const fallbackChunkWords = 3

// Stream runs the same candidate policy as Generate but delivers output
// incrementally through onChunk. A candidate that fails before its first
// chunk is skipped over; once a chunk has been delivered the stream is
// committed to that source and a later failure ends the dispatch with a
// *StreamInterruptedError and the partial result. An error returned by
// onChunk stops the dispatch and is returned wrapped.
func (d *Dispatcher) Stream(ctx context.Context, req domain.GenerationRequest, onChunk func(domain.Chunk) error) (*domain.GenerationResult, error) {
	if err := validateRequest("Dispatcher.Stream", req); err != nil {
		return nil, err
	}
	if onChunk == nil {
		return nil, domain.NewDomainError("Dispatcher.Stream", domain.ErrInvalidInput, "nil chunk callback")
	}
	ctx, r := d.begin(ctx, "dispatch.stream", req)
	defer r.span.End()

	for _, desc := range d.deps.Routes.RouteFor(req.AgentName) {
		b, ok := d.admit(ctx, r, desc)
		if !ok {
			continue
		}
		sink := newChunkSink(desc.ID, onChunk)
		resp, err := d.send(ctx, r, desc, func(ctx context.Context, payload domain.BackendPayload) (*domain.BackendResponse, error) {
			payload.Stream = true
			return b.GenerateStream(ctx, payload, sink.emit)
		})
		if err == nil {
			res := d.backendResult(r, desc, resp, sink.text.String())
			d.finish(ctx, r, res, nil)
			return res, nil
		}
		if res, stop, serr := d.streamStopped(ctx, r, sink, err); stop {
			return res, serr
		}
	}

	fb := d.deps.Fallback
	if fb == nil {
		return nil, d.fail(ctx, r, "", nil)
	}
	r.logger.Warn("all candidates failed, streaming from fallback",
		"fallback", fb.Name(), "attempts", len(r.attempts))

	fctx, span := tracer.StartSpan(ctx, "dispatch.fallback",
		trace.WithAttributes(
			tracer.StringAttr("fallback.provider", fb.Name()),
			tracer.BoolAttr("fallback.stream", true),
		))
	defer span.End()

	sink := newChunkSink(fallbackLabel(fb), onChunk)
	err := d.streamFallback(fctx, fb, req, sink)
	if err == nil {
		tracer.SetOK(span)
		res := d.fallbackResult(r, fb, sink.text.String())
		d.finish(ctx, r, res, nil)
		return res, nil
	}
	tracer.RecordError(span, err)
	if res, stop, serr := d.streamStopped(ctx, r, sink, err); stop {
		return res, serr
	}
	return nil, d.fail(ctx, r, fb.Name(), err)
}

func (d *Dispatcher) streamFallback(ctx context.Context, fb domain.FallbackProvider, req domain.GenerationRequest, sink *chunkSink) error {
	opts := d.deps.FallbackOptions(req)
	if sf, ok := fb.(domain.StreamingFallback); ok {
		_, err := sf.CompleteStream(ctx, req.Prompt, opts, sink.emit)
		return err
	}
	text, err := fb.Complete(ctx, req.Prompt, opts)
	if err != nil {
		return err
	}
	for _, chunk := range wordChunks(text, fallbackChunkWords) {
		if err := sink.emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

// streamStopped decides whether a failed stream ends the dispatch: the
// consumer rejected a chunk, or output was already delivered.
func (d *Dispatcher) streamStopped(ctx context.Context, r *run, sink *chunkSink, err error) (*domain.GenerationResult, bool, error) {
	if cr, ok := asChunkRejected(err); ok {
		r.logger.Info("stream aborted by consumer", "source", sink.source, "chunks", sink.chunks)
		werr := fmt.Errorf("dispatch: stream aborted by consumer: %w", cr.err)
		d.finish(ctx, r, nil, werr)
		return nil, true, werr
	}
	if sink.chunks == 0 {
		return nil, false, nil
	}
	ierr := &StreamInterruptedError{Backend: sink.source, Chunks: sink.chunks, Err: err}
	r.logger.Error("stream interrupted after partial output",
		"source", sink.source, "chunks", sink.chunks, "error", err)
	res := &domain.GenerationResult{
		RequestID:      r.id,
		Text:           sink.text.String(),
		BackendUsed:    sink.source,
		ProcessingTime: d.deps.Now().Sub(r.start),
		UsedFallback:   strings.HasPrefix(sink.source, "fallback:"),
		Attempts:       r.attempts,
	}
	d.finish(ctx, r, res, ierr)
	return res, true, ierr
}

// chunkSink forwards chunks from one source to the consumer and keeps what
// was delivered.
type chunkSink struct {
	source  string
	onChunk func(domain.Chunk) error
	text    strings.Builder
	chunks  int
}

func newChunkSink(source string, onChunk func(domain.Chunk) error) *chunkSink {
	return &chunkSink{source: source, onChunk: onChunk}
}

func (s *chunkSink) emit(text string) error {
	if text == "" {
		return nil
	}
	if err := s.onChunk(domain.Chunk{Text: text, Backend: s.source}); err != nil {
		return &chunkRejectedError{err: err}
	}
	s.text.WriteString(text)
	s.chunks++
	return nil
}

// wordChunks splits text into groups of n words, each followed by a space.
func wordChunks(text string, n int) []string {
	words := strings.Fields(text)
	chunks := make([]string, 0, (len(words)+n-1)/n)
	for i := 0; i < len(words); i += n {
		end := min(i+n, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " ")+" ")
	}
	return chunks
}
