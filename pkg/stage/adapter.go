// Package stage wraps provider chains behind a uniform invocation
// contract: attempt the primary provider within the remaining latency
// budget, fall back along the chain on failure or timeout, and report
// the provider that ultimately serviced the call.
package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"voice-relay/pkg/budget"
	"voice-relay/pkg/models"
	"voice-relay/pkg/providers"
)

// Chains holds the ordered provider lists, primary first. They are
// read-only shared configuration; an Adapter never mutates them.
type Chains struct {
	Transcribers []providers.Transcriber
	Translators  []providers.Translator
	Synthesizers []providers.Synthesizer
}

// Adapter drives one stage invocation at a time and is safe for
// concurrent use by multiple utterance pipelines.
type Adapter struct {
	chains  Chains
	budgets budget.Budgets

	noise          providers.NoiseProcessor
	noiseThreshold float64

	cache *translationCache

	// now is the clock reference; overridable in tests.
	now func() time.Time
}

type Option func(*Adapter)

// WithNoiseProcessor enables the one-shot noise-reduction pre-pass for
// transcription input whose measured noise exceeds threshold.
func WithNoiseProcessor(p providers.NoiseProcessor, threshold float64) Option {
	return func(a *Adapter) {
		a.noise = p
		a.noiseThreshold = threshold
	}
}

// WithTranslationCache bounds an in-memory cache consulted before the
// translation chain. Purely an optimization; zero size disables it.
func WithTranslationCache(size int) Option {
	return func(a *Adapter) {
		if size > 0 {
			a.cache = newTranslationCache(size)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func NewAdapter(chains Chains, budgets budget.Budgets, opts ...Option) *Adapter {
	a := &Adapter{chains: chains, budgets: budgets, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Transcribe runs the speech-to-text chain over utterance audio.
// start is the moment the utterance entered its pipeline.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, sourceLang string, start time.Time) (models.StageResult, error) {
	audio = a.denoise(audio)

	return a.invoke(ctx, models.StageTranscribe, start, len(a.chains.Transcribers),
		func(ctx context.Context, i int) (models.StageResult, error) {
			p := a.chains.Transcribers[i]
			text, confidence, err := p.Transcribe(ctx, audio, sourceLang)
			if err != nil {
				return models.StageResult{Provider: p.Name()}, err
			}
			return models.StageResult{Provider: p.Name(), Text: text, Confidence: confidence}, nil
		})
}

// Translate runs the translation chain, consulting the cache first.
func (a *Adapter) Translate(ctx context.Context, text, sourceLang, targetLang string, hints []string, start time.Time) (models.StageResult, error) {
	if cached, ok := a.cache.get(text, sourceLang, targetLang); ok {
		return models.StageResult{
			Stage:      models.StageTranslate,
			Provider:   cached.provider,
			Text:       cached.text,
			Confidence: cached.confidence,
			Attempts:   0,
		}, nil
	}

	result, err := a.invoke(ctx, models.StageTranslate, start, len(a.chains.Translators),
		func(ctx context.Context, i int) (models.StageResult, error) {
			p := a.chains.Translators[i]
			out, confidence, err := p.Translate(ctx, text, sourceLang, targetLang, hints)
			if err != nil {
				return models.StageResult{Provider: p.Name()}, err
			}
			return models.StageResult{Provider: p.Name(), Text: out, Confidence: confidence}, nil
		})
	if err == nil {
		a.cache.put(text, sourceLang, targetLang, result)
	}
	return result, err
}

// Synthesize runs the text-to-speech chain.
func (a *Adapter) Synthesize(ctx context.Context, text, targetLang string, start time.Time) (models.StageResult, error) {
	return a.invoke(ctx, models.StageSynthesize, start, len(a.chains.Synthesizers),
		func(ctx context.Context, i int) (models.StageResult, error) {
			p := a.chains.Synthesizers[i]
			audio, err := p.Synthesize(ctx, text, targetLang)
			if err != nil {
				return models.StageResult{Provider: p.Name()}, err
			}
			return models.StageResult{Provider: p.Name(), Audio: audio}, nil
		})
}

// denoise applies the noise-reduction pre-pass once, before the first
// provider attempt. A failed pass falls through to the raw audio.
func (a *Adapter) denoise(audio []byte) []byte {
	if a.noise == nil {
		return audio
	}
	level := a.noise.MeasureNoiseLevel(audio)
	if level <= a.noiseThreshold {
		return audio
	}
	cleaned, err := a.noise.ReduceNoise(audio)
	if err != nil {
		logrus.WithError(err).Warn("Stage Adapter: noise reduction failed, proceeding with raw audio")
		return audio
	}
	return cleaned
}

// invoke walks the provider chain for one stage. Each attempt gets a
// deadline equal to the remaining utterance budget capped by the stage
// budget, recomputed per attempt so retries never inflate the envelope.
func (a *Adapter) invoke(ctx context.Context, stage models.Stage, start time.Time, chainLen int, attempt func(context.Context, int) (models.StageResult, error)) (models.StageResult, error) {
	entered := a.now()
	if a.budgets.Exceeded(start, entered) {
		return failedResult(stage, "", entered, entered, 0, models.FailureBudgetExceeded),
			models.NewPipelineError(models.FailureBudgetExceeded, stage, "",
				fmt.Errorf("end-to-end budget %s already elapsed", a.budgets.Total))
	}
	if chainLen == 0 {
		return failedResult(stage, "", entered, entered, 0, models.FailureStageExhausted),
			models.NewPipelineError(models.FailureStageExhausted, stage, "",
				fmt.Errorf("no providers configured"))
	}

	var lastErr error
	var lastProvider string
	for i := 0; i < chainLen; i++ {
		remaining := a.budgets.Remaining(stage, start, a.now())
		if remaining <= 0 {
			break
		}

		if i > 0 {
			if !sleep(ctx, backoffDelay(i, remaining)) {
				lastErr = ctx.Err()
				break
			}
			remaining = a.budgets.Remaining(stage, start, a.now())
			if remaining <= 0 {
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, remaining)
		attemptStart := a.now()
		result, err := attempt(attemptCtx, i)
		cancel()
		attemptEnd := a.now()

		if err == nil {
			result.Stage = stage
			result.Elapsed = attemptEnd.Sub(entered)
			result.Attempts = i + 1
			return result, nil
		}

		lastErr, lastProvider = err, result.Provider
		logrus.WithFields(logrus.Fields{
			"stage":    stage,
			"provider": result.Provider,
			"attempt":  i + 1,
			"elapsed":  attemptEnd.Sub(attemptStart),
		}).WithError(err).Warn("Stage Adapter: provider failed, advancing chain")

		if ctx.Err() != nil {
			break
		}
	}

	end := a.now()
	if a.budgets.Remaining(stage, start, end) <= 0 && lastErr == nil {
		return failedResult(stage, lastProvider, entered, end, 0, models.FailureBudgetExceeded),
			models.NewPipelineError(models.FailureBudgetExceeded, stage, lastProvider,
				fmt.Errorf("budget exhausted before chain completed"))
	}
	result := failedResult(stage, lastProvider, entered, end, chainLen, models.FailureStageExhausted)
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	return result, models.NewPipelineError(models.FailureStageExhausted, stage, lastProvider,
		fmt.Errorf("all %d providers failed: %w", chainLen, lastErr))
}

func failedResult(stage models.Stage, provider string, entered, end time.Time, attempts int, kind models.FailureKind) models.StageResult {
	return models.StageResult{
		Stage:    stage,
		Provider: provider,
		Elapsed:  end.Sub(entered),
		Attempts: attempts,
		Failed:   true,
		Error:    string(kind),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
