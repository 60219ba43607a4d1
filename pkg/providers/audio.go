package providers

import (
	"encoding/binary"
	"math"

	"voice-relay/pkg/models"
)

// rms computes the root mean square amplitude of 16-bit little-endian
// PCM samples, normalized to [0, 1].
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// EnergyVoiceDetector classifies chunks by RMS energy against a fixed
// threshold. Good enough for 16 kHz mono speech; swap in a model-based
// detector for production traffic.
type EnergyVoiceDetector struct {
	Threshold float64
}

func NewEnergyVoiceDetector(threshold float64) *EnergyVoiceDetector {
	return &EnergyVoiceDetector{Threshold: threshold}
}

func (d *EnergyVoiceDetector) DetectVoiceActivity(chunk *models.AudioChunk) bool {
	return rms(chunk.Data) >= d.Threshold
}

// SpectralNoiseGate estimates noise from sample-to-sample jitter and
// reduces it with a short moving-average filter.
type SpectralNoiseGate struct {
	// Window is the moving-average width in samples (default 4).
	Window int
}

func NewSpectralNoiseGate() *SpectralNoiseGate {
	return &SpectralNoiseGate{Window: 4}
}

// MeasureNoiseLevel returns the ratio of high-frequency energy
// (successive sample differences) to overall energy. Hiss and static
// score close to 1, clean speech well below.
func (g *SpectralNoiseGate) MeasureNoiseLevel(audio []byte) float64 {
	n := len(audio) / 2
	if n < 2 {
		return 0
	}
	var total, diff float64
	prev := float64(int16(binary.LittleEndian.Uint16(audio))) / math.MaxInt16
	total = prev * prev
	for i := 1; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(audio[2*i:]))) / math.MaxInt16
		total += v * v
		d := v - prev
		diff += d * d
		prev = v
	}
	if total == 0 {
		return 0
	}
	score := diff / (2 * total)
	if score > 1 {
		score = 1
	}
	return score
}

// ReduceNoise low-pass filters the samples with a moving average.
func (g *SpectralNoiseGate) ReduceNoise(audio []byte) ([]byte, error) {
	window := g.Window
	if window < 2 {
		window = 4
	}
	n := len(audio) / 2
	out := make([]byte, len(audio))
	copy(out, audio)

	var acc int
	for i := 0; i < n; i++ {
		acc += int(int16(binary.LittleEndian.Uint16(audio[2*i:])))
		if i >= window {
			acc -= int(int16(binary.LittleEndian.Uint16(audio[2*(i-window):])))
		}
		span := window
		if i+1 < window {
			span = i + 1
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(acc/span)))
	}
	return out, nil
}
