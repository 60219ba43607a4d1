package models

import (
	"time"

	"github.com/google/uuid"
)

// Direction identifies which party of a bidirectional session produced
// an audio stream. The two directions are translated independently.
type Direction int

const (
	DirectionInbound  Direction = 0
	DirectionOutbound Direction = 1
)

func (d Direction) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}

// Valid reports whether d names one of the two session directions.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Stage names one step of the utterance pipeline.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageTranslate  Stage = "translate"
	StageSynthesize Stage = "synthesize"
)

// AudioChunk is one frame of raw audio as received from a caller.
// Chunks are immutable once admitted; Timestamp and Duration are
// millisecond offsets relative to the session start.
type AudioChunk struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Direction Direction `json:"direction"`
	Data      []byte    `json:"data"`
	Timestamp int64     `json:"timestamp"`
	Duration  int64     `json:"duration"`
	Seq       uint64    `json:"seq"`
}

func NewAudioChunk(sessionID string, direction Direction, data []byte, timestamp, duration int64) *AudioChunk {
	return &AudioChunk{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Direction: direction,
		Data:      data,
		Timestamp: timestamp,
		Duration:  duration,
	}
}

// StageResult is the envelope returned by every stage adapter call.
type StageResult struct {
	Stage      Stage         `json:"stage"`
	Provider   string        `json:"provider"`
	Text       string        `json:"text,omitempty"`
	Audio      []byte        `json:"audio,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Attempts   int           `json:"attempts"`
	Failed     bool          `json:"failed"`
	Error      string        `json:"error,omitempty"`
}

// UtteranceStatus is the terminal state of an utterance.
type UtteranceStatus string

const (
	UtterancePending   UtteranceStatus = "pending"
	UtteranceCompleted UtteranceStatus = "completed"
	UtteranceFailed    UtteranceStatus = "failed"
)

// Utterance is one contiguous span of speech bounded by silence, the
// unit of translation work. It is immutable once its status is terminal.
type Utterance struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Direction      Direction `json:"direction"`
	Seq            uint64    `json:"seq"`
	StartTime      int64     `json:"start_time"`
	EndTime        int64     `json:"end_time"`
	Audio          []byte    `json:"audio,omitempty"`
	SourceLanguage string    `json:"source_language"`

	Transcript     string `json:"transcript,omitempty"`
	TranslatedText string `json:"translated_text,omitempty"`
	// AudioRef names the stored synthesized audio for this utterance.
	AudioRef string `json:"audio_ref,omitempty"`

	Stages       []StageResult   `json:"stages,omitempty"`
	Status       UtteranceStatus `json:"status"`
	FailureKind  FailureKind     `json:"failure_kind,omitempty"`
	TotalLatency time.Duration   `json:"total_latency"`
	CreatedAt    time.Time       `json:"created_at"`
}

func NewUtterance(sessionID string, direction Direction, seq uint64, startTime, endTime int64, audio []byte, sourceLanguage string) *Utterance {
	return &Utterance{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		Direction:      direction,
		Seq:            seq,
		StartTime:      startTime,
		EndTime:        endTime,
		Audio:          audio,
		SourceLanguage: sourceLanguage,
		Status:         UtterancePending,
		CreatedAt:      time.Now(),
	}
}

// StageFor returns the recorded result for the given stage, if any.
func (u *Utterance) StageFor(stage Stage) (StageResult, bool) {
	for _, s := range u.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}

// SessionStatus is the lifecycle state of a session as seen by callers.
// Transitions are one-way: active -> completed or active -> error.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// AudioSession is the persistent record of a translation session.
// It is mutated only by its own pipeline instance.
type AudioSession struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	SourceLanguage string        `json:"source_language"`
	TargetLanguage string        `json:"target_language"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`

	UtteranceCount int     `json:"utterance_count"`
	FailedCount    int     `json:"failed_count"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
}

func NewAudioSession(userID, sourceLanguage, targetLanguage string) *AudioSession {
	return &AudioSession{
		ID:             uuid.New().String(),
		UserID:         userID,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		Status:         SessionActive,
		CreatedAt:      time.Now(),
	}
}

// RecordUtterance folds one finished utterance into the running stats.
func (s *AudioSession) RecordUtterance(u *Utterance) {
	s.UtteranceCount++
	if u.Status == UtteranceFailed {
		s.FailedCount++
	}
	latency := float64(u.TotalLatency.Milliseconds())
	s.AvgLatencyMs += (latency - s.AvgLatencyMs) / float64(s.UtteranceCount)
}

// SessionSummary is returned to the caller when a session completes.
type SessionSummary struct {
	SessionID      string        `json:"session_id"`
	Duration       time.Duration `json:"duration"`
	UtteranceCount int           `json:"utterance_count"`
	FailedCount    int           `json:"failed_count"`
	AvgLatencyMs   float64       `json:"avg_latency_ms"`
}
