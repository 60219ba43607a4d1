package providers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// StubConfig controls the deterministic behavior of a stub provider.
type StubConfig struct {
	// ProviderName is reported through Name(); required.
	ProviderName string
	// Delay simulates provider processing time per call.
	Delay time.Duration
	// Err, when set, makes every call fail with this error.
	Err error
	// FailFirst makes the first N calls fail before succeeding.
	FailFirst int
	// Confidence reported on success (defaults to 0.95).
	Confidence float64
}

func (c *StubConfig) confidence() float64 {
	if c.Confidence == 0 {
		return 0.95
	}
	return c.Confidence
}

// wait sleeps for the configured delay, honouring cancellation, then
// applies the scripted failure if one is due.
func (c *StubConfig) wait(ctx context.Context, calls uint64) error {
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Err != nil {
		return c.Err
	}
	if calls <= uint64(c.FailFirst) {
		return fmt.Errorf("%s: scripted failure %d", c.ProviderName, calls)
	}
	return nil
}

// StubTranscriber returns deterministic transcripts for testing and
// development wiring.
type StubTranscriber struct {
	Config StubConfig
	// Transcript returned on success. Empty yields a generated value.
	Transcript string

	calls uint64
}

func NewStubTranscriber(name string) *StubTranscriber {
	return &StubTranscriber{Config: StubConfig{ProviderName: name}}
}

func (s *StubTranscriber) Name() string { return s.Config.ProviderName }

func (s *StubTranscriber) Transcribe(ctx context.Context, audio []byte, sourceLang string) (string, float64, error) {
	n := atomic.AddUint64(&s.calls, 1)
	if err := s.Config.wait(ctx, n); err != nil {
		return "", 0, err
	}
	text := s.Transcript
	if text == "" {
		text = fmt.Sprintf("transcript %d (%d bytes, %s)", n, len(audio), sourceLang)
	}
	return text, s.Config.confidence(), nil
}

// StubTranslator returns a deterministic marked-up translation.
type StubTranslator struct {
	Config StubConfig
	// Translations maps source text to a fixed result. Missing entries
	// yield a generated "[targetLang] text" value.
	Translations map[string]string

	calls uint64
}

func NewStubTranslator(name string) *StubTranslator {
	return &StubTranslator{Config: StubConfig{ProviderName: name}}
}

func (s *StubTranslator) Name() string { return s.Config.ProviderName }

func (s *StubTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string, hints []string) (string, float64, error) {
	n := atomic.AddUint64(&s.calls, 1)
	if err := s.Config.wait(ctx, n); err != nil {
		return "", 0, err
	}
	if out, ok := s.Translations[text]; ok {
		return out, s.Config.confidence(), nil
	}
	return fmt.Sprintf("[%s] %s", targetLang, text), s.Config.confidence(), nil
}

// StubSynthesizer returns a deterministic audio payload.
type StubSynthesizer struct {
	Config StubConfig

	calls uint64
}

func NewStubSynthesizer(name string) *StubSynthesizer {
	return &StubSynthesizer{Config: StubConfig{ProviderName: name}}
}

func (s *StubSynthesizer) Name() string { return s.Config.ProviderName }

func (s *StubSynthesizer) Synthesize(ctx context.Context, text, targetLang string) ([]byte, error) {
	n := atomic.AddUint64(&s.calls, 1)
	if err := s.Config.wait(ctx, n); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("pcm:%s:%s", targetLang, text)), nil
}
