package providers

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"voice-relay/pkg/models"
)

func pcmConstant(samples int, amplitude int16) []byte {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(amplitude))
	}
	return data
}

// pcmTone is a low-frequency sine, the shape of voiced speech energy.
func pcmTone(samples int, amplitude float64) []byte {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude * math.Sin(2*math.Pi*float64(i)/64)
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(v*math.MaxInt16)))
	}
	return data
}

// pcmHiss alternates sign every sample, all energy at the highest
// representable frequency.
func pcmHiss(samples int, amplitude int16) []byte {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	return data
}

func TestRMS(t *testing.T) {
	if got := rms(nil); got != 0 {
		t.Errorf("empty input: expected 0, got %f", got)
	}
	if got := rms(pcmConstant(100, 0)); got != 0 {
		t.Errorf("silence: expected 0, got %f", got)
	}

	// A constant full-scale signal has RMS 1.
	got := rms(pcmConstant(100, math.MaxInt16))
	if math.Abs(got-1) > 0.001 {
		t.Errorf("full scale: expected ~1, got %f", got)
	}

	// A sine's RMS is amplitude over sqrt(2).
	got = rms(pcmTone(640, 0.5))
	if math.Abs(got-0.5/math.Sqrt2) > 0.01 {
		t.Errorf("half-scale sine: expected ~%f, got %f", 0.5/math.Sqrt2, got)
	}
}

func TestEnergyVoiceDetector(t *testing.T) {
	detector := NewEnergyVoiceDetector(0.02)

	voiced := models.NewAudioChunk("s", models.DirectionInbound, pcmTone(640, 0.3), 0, 20)
	if !detector.DetectVoiceActivity(voiced) {
		t.Error("tone above threshold should be voiced")
	}

	quiet := models.NewAudioChunk("s", models.DirectionInbound, pcmConstant(640, 0), 0, 20)
	if detector.DetectVoiceActivity(quiet) {
		t.Error("silence should not be voiced")
	}

	faint := models.NewAudioChunk("s", models.DirectionInbound, pcmTone(640, 0.01), 0, 20)
	if detector.DetectVoiceActivity(faint) {
		t.Error("signal below threshold should not be voiced")
	}
}

func TestNoiseLevelSeparatesHissFromSpeech(t *testing.T) {
	gate := NewSpectralNoiseGate()

	hiss := gate.MeasureNoiseLevel(pcmHiss(640, 8000))
	speech := gate.MeasureNoiseLevel(pcmTone(640, 0.3))

	if hiss < 0.9 {
		t.Errorf("hiss should score near 1, got %f", hiss)
	}
	if speech > 0.1 {
		t.Errorf("low-frequency tone should score near 0, got %f", speech)
	}
	if got := gate.MeasureNoiseLevel(nil); got != 0 {
		t.Errorf("empty input: expected 0, got %f", got)
	}
	if got := gate.MeasureNoiseLevel(pcmConstant(640, 0)); got != 0 {
		t.Errorf("all-zero input: expected 0, got %f", got)
	}
}

func TestReduceNoiseAttenuatesHiss(t *testing.T) {
	gate := NewSpectralNoiseGate()

	noisy := pcmHiss(640, 8000)
	cleaned, err := gate.ReduceNoise(noisy)
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}
	if len(cleaned) != len(noisy) {
		t.Fatalf("length changed: %d -> %d", len(noisy), len(cleaned))
	}
	if rms(cleaned) >= rms(noisy) {
		t.Errorf("filtering should drop hiss energy: before %f after %f",
			rms(noisy), rms(cleaned))
	}

	// The filter barely touches a low-frequency tone.
	tone := pcmTone(640, 0.3)
	smoothed, err := gate.ReduceNoise(tone)
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}
	before, after := rms(tone), rms(smoothed)
	if after < before*0.9 {
		t.Errorf("tone energy dropped too far: before %f after %f", before, after)
	}
}

func TestStubTranscriber(t *testing.T) {
	ctx := context.Background()

	s := NewStubTranscriber("stt-test")
	s.Transcript = "hello world"

	text, confidence, err := s.Transcribe(ctx, []byte{1, 2}, "en")
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if text != "hello world" {
		t.Errorf("unexpected transcript %q", text)
	}
	if confidence != 0.95 {
		t.Errorf("expected default confidence 0.95, got %f", confidence)
	}
}

func TestStubFailFirst(t *testing.T) {
	ctx := context.Background()

	s := NewStubTranscriber("stt-flaky")
	s.Config.FailFirst = 2

	for i := 0; i < 2; i++ {
		if _, _, err := s.Transcribe(ctx, nil, "en"); err == nil {
			t.Fatalf("call %d: expected scripted failure", i+1)
		}
	}
	if _, _, err := s.Transcribe(ctx, nil, "en"); err != nil {
		t.Fatalf("third call should succeed: %v", err)
	}
}

func TestStubScriptedError(t *testing.T) {
	scripted := errors.New("provider offline")

	s := NewStubTranslator("mt-down")
	s.Config.Err = scripted

	if _, _, err := s.Translate(context.Background(), "hi", "en", "hi", nil); !errors.Is(err, scripted) {
		t.Errorf("expected scripted error, got %v", err)
	}
}

func TestStubTranslatorMappings(t *testing.T) {
	ctx := context.Background()

	s := NewStubTranslator("mt-test")
	s.Translations = map[string]string{"good morning": "suprabhat"}

	text, _, err := s.Translate(ctx, "good morning", "en", "hi", nil)
	if err != nil {
		t.Fatalf("translate failed: %v", err)
	}
	if text != "suprabhat" {
		t.Errorf("expected mapped translation, got %q", text)
	}

	text, _, err = s.Translate(ctx, "good evening", "en", "hi", nil)
	if err != nil {
		t.Fatalf("translate failed: %v", err)
	}
	if text != "[hi] good evening" {
		t.Errorf("expected generated translation, got %q", text)
	}
}

func TestStubSynthesizerPayload(t *testing.T) {
	s := NewStubSynthesizer("tts-test")
	audio, err := s.Synthesize(context.Background(), "namaste", "hi")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if string(audio) != "pcm:hi:namaste" {
		t.Errorf("unexpected payload %q", audio)
	}
}

func TestStubHonorsCancellation(t *testing.T) {
	s := NewStubSynthesizer("tts-slow")
	s.Config.Delay = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Synthesize(ctx, "text", "hi")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not interrupt the delay")
	}
}
