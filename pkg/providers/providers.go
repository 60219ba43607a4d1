package providers

import (
	"context"

	"voice-relay/pkg/models"
)

// Transcriber converts utterance audio to text.
type Transcriber interface {
	// Name identifies the provider in stage results and logs.
	Name() string

	// Transcribe returns the recognized text and a confidence score.
	Transcribe(ctx context.Context, audio []byte, sourceLang string) (string, float64, error)
}

// Translator converts text between languages.
type Translator interface {
	Name() string

	// Translate converts text to targetLang. Hints carry recent
	// transcript context for disambiguation and may be empty.
	Translate(ctx context.Context, text, sourceLang, targetLang string, hints []string) (string, float64, error)
}

// Synthesizer converts translated text to speech audio.
type Synthesizer interface {
	Name() string

	// Synthesize returns raw audio for the given text.
	Synthesize(ctx context.Context, text, targetLang string) ([]byte, error)
}

// VoiceDetector classifies a chunk as voiced or silent.
type VoiceDetector interface {
	DetectVoiceActivity(chunk *models.AudioChunk) bool
}

// NoiseProcessor measures and reduces background noise in utterance
// audio before transcription.
type NoiseProcessor interface {
	// MeasureNoiseLevel returns a score in [0, 1]; higher is noisier.
	MeasureNoiseLevel(audio []byte) float64

	// ReduceNoise returns a cleaned copy of the audio.
	ReduceNoise(audio []byte) ([]byte, error)
}
