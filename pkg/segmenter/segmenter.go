// Package segmenter groups a stream of timestamped audio chunks into
// discrete utterances using silence detection.
package segmenter

import (
	"context"

	"github.com/sirupsen/logrus"

	"voice-relay/pkg/config"
	"voice-relay/pkg/models"
	"voice-relay/pkg/providers"
)

// Segmenter consumes one direction of a session's chunk stream and
// emits finalized utterances in order. It owns chunks once they are
// read from the input channel.
//
// A buffered utterance is finalized when accumulated silence exceeds
// the pause threshold, when the buffer reaches the maximum utterance
// duration, or when the input channel closes with audio still
// buffered. Silence-only spans are discarded, never emitted.
type Segmenter struct {
	cfg        config.SegmenterConfig
	detector   providers.VoiceDetector
	sessionID  string
	direction  models.Direction
	sourceLang string

	in  <-chan *models.AudioChunk
	out chan *models.Utterance

	seq     uint64
	buf     []*models.AudioChunk
	silence int64
}

func New(cfg config.SegmenterConfig, detector providers.VoiceDetector, sessionID string, direction models.Direction, sourceLang string, in <-chan *models.AudioChunk) *Segmenter {
	return &Segmenter{
		cfg:        cfg,
		detector:   detector,
		sessionID:  sessionID,
		direction:  direction,
		sourceLang: sourceLang,
		in:         in,
		out:        make(chan *models.Utterance, 1),
	}
}

// Utterances is the ordered output stream. It is closed after the
// input channel closes and any final buffered audio has been emitted.
func (s *Segmenter) Utterances() <-chan *models.Utterance {
	return s.out
}

// Run drives segmentation until the input closes or ctx is cancelled.
// Cancellation abandons the buffer; a clean close flushes it.
func (s *Segmenter) Run(ctx context.Context) {
	defer close(s.out)

	for {
		select {
		case chunk, ok := <-s.in:
			if !ok {
				s.flush(ctx)
				return
			}
			if !s.ingest(ctx, chunk) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Segmenter) ingest(ctx context.Context, chunk *models.AudioChunk) bool {
	if s.detector.DetectVoiceActivity(chunk) {
		s.buf = append(s.buf, chunk)
		s.silence = 0
		if s.bufferedMillis() >= s.cfg.MaxUtterance.Milliseconds() {
			return s.emit(ctx)
		}
		return true
	}

	if len(s.buf) == 0 {
		// Leading silence carries nothing worth keeping.
		return true
	}
	s.silence += chunk.Duration
	if s.silence > s.cfg.PauseThreshold.Milliseconds() {
		return s.emit(ctx)
	}
	return true
}

func (s *Segmenter) bufferedMillis() int64 {
	if len(s.buf) == 0 {
		return 0
	}
	last := s.buf[len(s.buf)-1]
	return last.Timestamp + last.Duration - s.buf[0].Timestamp
}

func (s *Segmenter) emit(ctx context.Context) bool {
	if len(s.buf) == 0 {
		return true
	}

	first, last := s.buf[0], s.buf[len(s.buf)-1]
	var audio []byte
	for _, c := range s.buf {
		audio = append(audio, c.Data...)
	}

	u := models.NewUtterance(s.sessionID, s.direction, s.seq,
		first.Timestamp, last.Timestamp+last.Duration, audio, s.sourceLang)

	s.buf = s.buf[:0]
	s.silence = 0

	select {
	case s.out <- u:
		s.seq++
		logrus.WithFields(logrus.Fields{
			"session_id": s.sessionID,
			"direction":  s.direction.String(),
			"seq":        u.Seq,
			"start_ms":   u.StartTime,
			"end_ms":     u.EndTime,
		}).Debug("Segmenter: utterance finalized")
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Segmenter) flush(ctx context.Context) {
	s.emit(ctx)
}
