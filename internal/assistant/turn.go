package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/recorder"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// sentenceBuffer bounds how far the LLM may run ahead of synthesis.
const sentenceBuffer = 8

// turn is one user utterance and the reply to it. Fields other than id and
// cancel are owned by the loop.
type turn struct {
	id     string
	cancel context.CancelFunc
	heard  time.Time

	enqueued int
	produced bool
}

// beginTurn supersedes any active turn and starts the pipeline for rec.
func (a *Assistant) beginTurn(rec recorder.Recording) {
	if a.current != nil {
		a.cancelTurn("superseded")
		a.queue.Clear()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &turn{
		id:     uuid.NewString(),
		cancel: cancel,
		heard:  a.sched.Now(),
	}
	a.current = t
	cfg := a.cfg

	slog.Info("assistant: turn started", "turn", t.id, "mode", rec.Mode.String(), "duration", rec.Duration)
	a.turns.Add(1)
	go a.runTurn(ctx, t, rec, cfg)
}

// cancelTurn aborts the active turn. Results it still produces are dropped.
func (a *Assistant) cancelTurn(reason string) {
	t := a.current
	if t == nil {
		return
	}
	a.current = nil
	t.cancel()
	slog.Info("assistant: turn cancelled", "turn", t.id, "reason", reason, "enqueued", t.enqueued)
}

// runTurn executes the provider pipeline off the loop.
func (a *Assistant) runTurn(ctx context.Context, t *turn, rec recorder.Recording, cfg Config) {
	defer a.turns.Done()
	defer t.cancel()

	ctx, span := observe.StartSpan(ctx, "assistant.turn",
		trace.WithAttributes(
			attribute.String("turn.id", t.id),
			attribute.String("recording.mode", rec.Mode.String()),
		),
	)
	log := observe.Logger(ctx).With("turn", t.id)

	err := a.respond(ctx, t, rec, cfg, log)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		log.Debug("assistant: turn aborted", "err", err)
		// Providers do not always wrap the context error.
		err = ctx.Err()
	default:
		log.Warn("assistant: turn failed", "err", err)
	}
	observe.EndSpan(span, err)
	a.sched.Post(func() { a.finishTurn(t) })
}

func (a *Assistant) respond(ctx context.Context, t *turn, rec recorder.Recording, cfg Config, log *slog.Logger) error {
	text, err := a.transcribe(ctx, rec, cfg.Language)
	if err != nil {
		return err
	}
	if text == "" {
		log.Info("assistant: nothing intelligible heard")
		return nil
	}
	log.Info("assistant: heard", "text", text)

	if err := a.history.AddTurn(ctx, t.id, llm.Message{Role: llm.RoleUser, Content: text}); err != nil {
		log.Warn("assistant: failed to add user message to history", "err", err)
	}
	req := llm.CompletionRequest{
		Messages:     a.history.Messages(),
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}

	sentences := make(chan string, sentenceBuffer)
	var spoken []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(sentences)
		return a.generate(gctx, req, sentences)
	})
	g.Go(func() error {
		for s := range sentences {
			speech, err := a.synthesize(gctx, s, cfg.Voice)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("assistant: sentence skipped", "text", s, "err", err)
				continue
			}
			spoken = append(spoken, s)
			a.deliver(ctx, t, s, speech)
		}
		return nil
	})
	err = g.Wait()

	// What was already synthesised is kept even for interrupted replies so
	// the model knows what the user may have heard.
	if reply := strings.Join(spoken, " "); reply != "" {
		hctx := context.WithoutCancel(ctx)
		if herr := a.history.AddTurn(hctx, t.id, llm.Message{Role: llm.RoleAssistant, Content: reply}); herr != nil {
			log.Warn("assistant: failed to add reply to history", "err", herr)
		}
	}
	return err
}

func (a *Assistant) transcribe(ctx context.Context, rec recorder.Recording, language string) (_ string, err error) {
	ctx, span := observe.StartSpan(ctx, "assistant.stt")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	tr, err := a.deps.STT.Transcribe(ctx, stt.Request{Audio: rec.Data, MIME: rec.MIME, Language: language})
	a.recordStage(ctx, observe.StageSTT, a.deps.STTName, time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("assistant: transcribe: %w", err)
	}
	return strings.TrimSpace(tr.Text), nil
}

// generate streams the reply and forwards complete sentences to out.
func (a *Assistant) generate(ctx context.Context, req llm.CompletionRequest, out chan<- string) (err error) {
	ctx, span := observe.StartSpan(ctx, "assistant.llm")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	defer func() { a.recordStage(ctx, observe.StageLLM, a.deps.LLMName, time.Since(start), err) }()

	ch, err := a.deps.LLM.StreamCompletion(ctx, req)
	if err != nil {
		return fmt.Errorf("assistant: llm stream: %w", err)
	}
	defer func() { go audio.Drain(ch) }()

	emit := func(s string) error {
		select {
		case out <- s:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var split Splitter
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				if rest := split.Flush(); rest != "" {
					return emit(rest)
				}
				return nil
			}
			if chunk.FinishReason == llm.FinishReasonError {
				return fmt.Errorf("assistant: llm stream: %w", errors.New(chunk.Text))
			}
			for _, s := range split.Push(chunk.Text) {
				if err := emit(s); err != nil {
					return err
				}
			}
		}
	}
}

func (a *Assistant) synthesize(ctx context.Context, text, voice string) (_ tts.Speech, err error) {
	ctx, span := observe.StartSpan(ctx, "assistant.tts",
		trace.WithAttributes(attribute.Int("tts.chars", len(text))))
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	speech, err := a.deps.TTS.Synthesize(ctx, text, voice)
	source := speech.Source
	if source == "" {
		source = a.deps.TTS.Name()
	}
	a.recordStage(ctx, observe.StageTTS, source, time.Since(start), err)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("assistant: synthesize: %w", err)
	}
	speech.Source = source
	return speech, nil
}

// deliver stores speech and hands it to the queue on the loop. Audio for a
// turn that is no longer current is released instead.
func (a *Assistant) deliver(ctx context.Context, t *turn, text string, speech tts.Speech) {
	uri := a.store.Create(speech.Data, speech.MIME)
	item := audio.PlaybackItem{Text: text, URI: uri, Source: speech.Source}

	a.sched.Post(func() {
		if a.closed || a.current != t {
			a.store.Revoke(uri)
			slog.Debug("assistant: stale fragment dropped", "turn", t.id, "text", text)
			return
		}
		if t.enqueued == 0 {
			a.classifier.Reset()
			if a.metrics != nil {
				a.metrics.RecordTurnLatency(ctx, a.sched.Now().Sub(t.heard))
			}
		}
		t.enqueued++
		a.queue.Enqueue(item)
	})
}

// finishTurn runs on the loop once the pipeline goroutine is done.
func (a *Assistant) finishTurn(t *turn) {
	t.produced = true
	if a.current != t {
		return
	}
	if t.enqueued == 0 {
		a.current = nil
		return
	}
	if !a.queue.IsProcessing() && a.queue.Len() == 0 {
		slog.Info("assistant: reply finished", "turn", t.id, "fragments", t.enqueued)
		a.current = nil
	}
}

func (a *Assistant) recordStage(ctx context.Context, stage, provider string, d time.Duration, err error) {
	if a.metrics != nil {
		a.metrics.RecordStage(ctx, stage, provider, d, err)
	}
}
